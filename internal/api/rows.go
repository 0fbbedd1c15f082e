package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/gorilla/mux"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/respond"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

const maxBody = 1 << 20

// opContext bounds a store call by the configured operation timeout.
func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.deps.OpTimeout)
}

// pathVars returns the table and, when present, a validated row id.
func pathVars(w http.ResponseWriter, r *http.Request) (table, id string, ok bool) {
	vars := mux.Vars(r)
	table = vars["table"]
	if _, err := store.Table(table); err != nil {
		respond.WriteNotFound(w, err.Error())
		return "", "", false
	}
	id, hasID := vars["id"]
	if hasID && !strfmt.IsUUID(id) {
		respond.WriteBadRequest(w, "id must be a UUID")
		return "", "", false
	}
	return table, id, true
}

func decodeFields(w http.ResponseWriter, r *http.Request) (model.Fields, bool) {
	var fields model.Fields
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&fields); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return nil, false
	}
	if fields == nil {
		fields = model.Fields{}
	}
	return fields, true
}

// listRows GET /api/tables/{table}/rows
func (s *Server) listRows(w http.ResponseWriter, r *http.Request) {
	table, _, ok := pathVars(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	rows, err := s.deps.Store.List(ctx, table)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	if rows == nil {
		rows = []model.Row{}
	}
	respond.WriteJSON(w, http.StatusOK, wire.Rows{Rows: rows, Count: len(rows)})
}

// createRow POST /api/tables/{table}/rows
func (s *Server) createRow(w http.ResponseWriter, r *http.Request) {
	table, _, ok := pathVars(w, r)
	if !ok {
		return
	}
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	if _, ok := fields[model.ColCreatedBy]; !ok {
		actor, _ := auth.ActorFromContext(r.Context())
		fields[model.ColCreatedBy] = actor
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	row, err := s.deps.Store.Create(ctx, table, fields)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, row)
}

// getRow GET /api/tables/{table}/rows/{id}
func (s *Server) getRow(w http.ResponseWriter, r *http.Request) {
	table, id, ok := pathVars(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	row, err := s.deps.Store.Get(ctx, table, id)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, row)
}

// updateRow PATCH /api/tables/{table}/rows/{id}. updated_at is taken from the
// body as sent; the server does not stamp it.
func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	table, id, ok := pathVars(w, r)
	if !ok {
		return
	}
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	row, err := s.deps.Store.Update(ctx, table, id, fields)
	if err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, row)
}

// deleteRow DELETE /api/tables/{table}/rows/{id}
func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	table, id, ok := pathVars(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := s.deps.Store.Delete(ctx, table, id); err != nil {
		respond.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
