package api

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/respond"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
)

func accessLog(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(m.Code)).Inc()
			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", m.Code).
				Dur("duration", m.Duration).
				Int64("bytes", m.Written).
				Msg("handled")
		})
	}
}

// authenticate places the request actor on the context. Browsers cannot set
// headers on websocket upgrades, so access_token is accepted as a query
// parameter as well.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor string
		if s.deps.Verifier == nil {
			actor = r.Header.Get(wire.ActorHeader)
			if actor == "" {
				actor = s.deps.DevActor
			}
		} else {
			token := r.URL.Query().Get("access_token")
			if token == "" {
				var err error
				if token, err = auth.BearerToken(r.Header.Get("Authorization")); err != nil {
					respond.WriteUnauthorized(w, err.Error())
					return
				}
			}
			var err error
			if actor, err = s.deps.Verifier.Verify(token); err != nil {
				respond.WriteUnauthorized(w, "invalid token")
				return
			}
		}
		if actor == "" {
			respond.WriteUnauthorized(w, "no actor")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}
