package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// notification is the JSON body produced by admin_notify_change().
type notification struct {
	Table      string          `json:"table"`
	Type       model.EventType `json:"type"`
	CommitTime time.Time       `json:"commit_time"`
	Truncated  bool            `json:"truncated"`
	New        model.Row       `json:"new"`
	Old        model.Row       `json:"old"`
}

// listen holds one dedicated connection in LISTEN mode and republishes
// notifications through the hub. When the connection is lost every open
// subscription is dropped, since notifications sent meanwhile are gone.
func (s *Store) listen(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 30 * time.Second

	for {
		err := s.listenOnce(ctx, bo)
		s.listening.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Str("channel", s.channel).Msg("notification listener lost, dropping subscriptions")
		s.hub.Drop()

		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, bo backoff.BackOff) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return err
	}
	s.listening.Store(true)
	bo.Reset()
	s.log.Info().Str("channel", s.channel).Msg("notification listener connected")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.handleNotification(ctx, n.Payload)
	}
}

// handleNotification decodes one payload and publishes it. Bad payloads are
// logged and dropped so the stream continues.
func (s *Store) handleNotification(ctx context.Context, payload string) {
	ch, err := s.decodeNotification(ctx, payload)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.log.Debug().Err(err).Msg("notified row no longer exists")
			return
		}
		s.log.Warn().Err(err).Str("payload", payload).Msg("dropping notification")
		return
	}
	s.hub.Publish(ch)
}

func (s *Store) decodeNotification(ctx context.Context, payload string) (store.Change, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return store.Change{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	t, err := store.Table(n.Table)
	if err != nil {
		return store.Change{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if !n.Type.Valid() {
		return store.Change{}, fmt.Errorf("%w: event type %q", model.ErrMalformedEvent, n.Type)
	}

	if n.Truncated && n.Type != model.EventDelete {
		row, err := s.Get(ctx, n.Table, n.New.ID())
		if err != nil {
			return store.Change{}, err
		}
		n.New = row
	}
	if n.New != nil {
		if n.New, err = t.CoerceRow(n.New); err != nil {
			return store.Change{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}
	}
	if n.Old != nil {
		if n.Old, err = t.CoerceRow(n.Old); err != nil {
			return store.Change{}, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}
	}
	return store.Change{Table: n.Table, Type: n.Type, New: n.New, Old: n.Old, CommitTime: n.CommitTime.UTC()}, nil
}
