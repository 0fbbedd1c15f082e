// Package api exposes a store over HTTP: table-scoped CRUD, a websocket
// change feed per table, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/recovery"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/syncclient"
)

// Verifier turns a bearer token into an actor id.
type Verifier interface {
	Verify(token string) (string, error)
}

// HealthReporter is satisfied by *health.Service.
type HealthReporter interface {
	IsHealthy() bool
	Components() map[string]bool
}

// Deps are the collaborators a router needs.
type Deps struct {
	Store store.Store
	// Verifier checks bearer tokens. When nil the router runs in dev mode and
	// takes the actor from wire.ActorHeader, falling back to DevActor.
	Verifier  Verifier
	DevActor  string
	Health    HealthReporter
	OpTimeout time.Duration
	Log       zerolog.Logger
}

// Server holds handler state.
type Server struct {
	deps Deps
}

// NewRouter registers every route on a fresh mux.Router.
func NewRouter(deps Deps) *mux.Router {
	if deps.OpTimeout <= 0 {
		deps.OpTimeout = syncclient.DefaultOpTimeout
	}
	s := &Server{deps: deps}

	r := mux.NewRouter()
	r.Use(recovery.Middleware, accessLog(deps.Log))

	r.HandleFunc(wire.HealthPath, s.health).Methods(http.MethodGet)
	r.Handle(wire.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(s.authenticate)
	authed.HandleFunc("/tables/{table}/rows", s.listRows).Methods(http.MethodGet)
	authed.HandleFunc("/tables/{table}/rows", s.createRow).Methods(http.MethodPost)
	authed.HandleFunc("/tables/{table}/rows/{id}", s.getRow).Methods(http.MethodGet)
	authed.HandleFunc("/tables/{table}/rows/{id}", s.updateRow).Methods(http.MethodPatch)
	authed.HandleFunc("/tables/{table}/rows/{id}", s.deleteRow).Methods(http.MethodDelete)
	authed.HandleFunc("/realtime", s.realtime).Methods(http.MethodGet)
	return r
}
