package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

type subscription struct {
	store   *Store
	table   string
	conn    *websocket.Conn
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
}

func (s *subscription) Table() string { return s.table }

func (s *subscription) Done() <-chan struct{} { return s.done }

// Close sends a close frame and drops the socket. It does not wait for the
// reader, so it is safe to call from inside the handler.
func (s *subscription) Close() error {
	s.closing.Store(true)
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *Store) realtimeURL(table string) string {
	u := *s.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = wire.RealtimePath
	q := u.Query()
	q.Set("table", table)
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe dials the realtime endpoint for table. Frames that fail to decode
// are logged and skipped.
func (s *Store) Subscribe(ctx context.Context, table string, fn store.Handler) (store.Subscription, error) {
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	hdr := http.Header{}
	if s.token != "" {
		hdr.Set("Authorization", "Bearer "+s.token)
	}
	if s.actor != "" {
		hdr.Set(wire.ActorHeader, s.actor)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.realtimeURL(table), hdr)
	if err != nil {
		if resp != nil {
			return nil, statusError(resp.StatusCode, nil)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dial realtime: %v", model.ErrUnavailable, err)
	}

	sub := &subscription{store: s, table: table, conn: conn, done: make(chan struct{})}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.read(fn)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *subscription) read(fn store.Handler) {
	log := s.store.log.With().Str("table", s.table).Logger()
	var cause error
	defer func() {
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
		_ = s.conn.Close()
		close(s.done)
		if !s.closing.Load() && s.store.onDisconnect != nil {
			s.store.onDisconnect(s.table, cause)
		}
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			cause = err
			if !s.closing.Load() {
				log.Warn().Err(err).Msg("realtime socket closed")
			}
			return
		}
		var f wire.Change
		if err := json.Unmarshal(raw, &f); err != nil {
			metrics.EventsDroppedTotal.WithLabelValues(s.table, "malformed").Inc()
			log.Warn().Err(err).Msg("dropping undecodable realtime frame")
			continue
		}
		ch, err := wire.ToChange(f)
		if err != nil {
			metrics.EventsDroppedTotal.WithLabelValues(s.table, "malformed").Inc()
			log.Warn().Err(err).Msg("dropping realtime frame")
			continue
		}
		s.deliver(fn, ch)
	}
}

func (s *subscription) deliver(fn store.Handler, ch store.Change) {
	defer func() {
		if r := recover(); r != nil {
			s.store.log.Error().Interface("panic", r).Str("table", s.table).Msg("change handler panicked")
		}
	}()
	if s.closing.Load() {
		return
	}
	fn(ch)
}
