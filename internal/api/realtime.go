package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/respond"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Close reasons sent to realtime clients. Both mean events may have been
// missed and the client must resync.
const (
	ReasonChannelLost = "change channel lost"
	ReasonTooSlow     = "subscriber too slow"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// realtime handles GET /api/realtime?table=… by pushing one JSON frame per
// change. The store subscription is opened before the upgrade completes, so
// any write the client issues after dialing is delivered.
func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if _, err := store.Table(table); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	frames := make(chan wire.Change, sendBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	sub, err := s.deps.Store.Subscribe(r.Context(), table, func(c store.Change) {
		select {
		case frames <- wire.FromChange(c):
		default:
			once.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.RealtimeSockets.Inc()
	defer metrics.RealtimeSockets.Dec()
	log := s.deps.Log.With().Str("table", table).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("realtime client connected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	closeWith := func(code int, reason string) {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				log.Debug().Err(err).Msg("realtime write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-overflow:
			log.Warn().Msg("realtime client fell behind; closing")
			closeWith(websocket.CloseTryAgainLater, ReasonTooSlow)
			return
		case <-sub.Done():
			closeWith(websocket.CloseGoingAway, ReasonChannelLost)
			return
		case <-readDone:
			log.Debug().Msg("realtime client disconnected")
			return
		}
	}
}
