// Package remote is a store.Store backed by the admin-sync HTTP API. CRUD goes
// over resty; each subscription holds one realtime websocket.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/respond"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Option configures a Store.
type Option func(*Store) error

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(s *Store) error {
		s.token = token
		return nil
	}
}

// WithActor sets the dev-mode actor header.
func WithActor(actor string) Option {
	return func(s *Store) error {
		s.actor = actor
		return nil
	}
}

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		s.http.SetTimeout(d)
		return nil
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) error {
		s.log = log
		return nil
	}
}

// WithOnDisconnect is called when a realtime socket ends without the caller
// closing it. The subscription is not retried.
func WithOnDisconnect(fn func(table string, err error)) Option {
	return func(s *Store) error {
		s.onDisconnect = fn
		return nil
	}
}

// Store talks to a remote admin-sync service.
type Store struct {
	base         *url.URL
	http         *resty.Client
	dialer       *websocket.Dialer
	token        string
	actor        string
	log          zerolog.Logger
	onDisconnect func(table string, err error)

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns a Store for the service at baseURL.
func New(baseURL string, opts ...Option) (*Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}
	s := &Store{
		base: u,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(30 * time.Second),
		dialer: websocket.DefaultDialer,
		log:    zerolog.Nop(),
		subs:   make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	if s.token != "" {
		s.http.SetAuthToken(s.token)
	}
	if s.actor != "" {
		s.http.SetHeader(wire.ActorHeader, s.actor)
	}
	return s, nil
}

func (s *Store) Create(ctx context.Context, table string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.R().SetContext(ctx).SetBody(fields).Post(wire.RowsURL(table))
	if err := check(ctx, resp, err, http.StatusCreated); err != nil {
		return nil, err
	}
	return decodeRow(t, resp.Body())
}

func (s *Store) Update(ctx context.Context, table, id string, fields model.Fields) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.R().SetContext(ctx).SetBody(fields).Patch(wire.RowURL(table, url.PathEscape(id)))
	if err := check(ctx, resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return decodeRow(t, resp.Body())
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Table(table); err != nil {
		return err
	}
	resp, err := s.http.R().SetContext(ctx).Delete(wire.RowURL(table, url.PathEscape(id)))
	return check(ctx, resp, err, http.StatusNoContent)
}

func (s *Store) Get(ctx context.Context, table, id string) (model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.R().SetContext(ctx).Get(wire.RowURL(table, url.PathEscape(id)))
	if err := check(ctx, resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return decodeRow(t, resp.Body())
}

func (s *Store) List(ctx context.Context, table string) ([]model.Row, error) {
	t, err := store.Table(table)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.R().SetContext(ctx).Get(wire.RowsURL(table))
	if err := check(ctx, resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	var body wire.Rows
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: decode rows: %v", model.ErrUnavailable, err)
	}
	for i := range body.Rows {
		if body.Rows[i], err = t.CoerceRow(body.Rows[i]); err != nil {
			return nil, err
		}
	}
	return body.Rows, nil
}

// HealthPing checks the service health endpoint.
func (s *Store) HealthPing(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Get(wire.HealthPath)
	return check(ctx, resp, err, http.StatusOK)
}

// Close ends every open subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func decodeRow(t model.Table, raw []byte) (model.Row, error) {
	var row model.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: decode row: %v", model.ErrUnavailable, err)
	}
	return t.CoerceRow(row)
}

// check turns a transport error or unexpected status into a tagged error.
func check(ctx context.Context, resp *resty.Response, err error, want int) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	if resp.StatusCode() == want {
		return nil
	}
	return statusError(resp.StatusCode(), resp.Body())
}

func statusError(code int, body []byte) error {
	msg := http.StatusText(code)
	var er respond.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		msg = er.Message
	}
	var tag error
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		tag = model.ErrValidation
	case code == http.StatusNotFound:
		tag = model.ErrNotFound
	case code == http.StatusConflict:
		tag = model.ErrConflict
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		tag = model.ErrUnauthorized
	default:
		tag = model.ErrUnavailable
	}
	return fmt.Errorf("%w: %s (status %d)", tag, msg, code)
}
