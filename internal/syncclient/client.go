// Package syncclient issues CRUD calls against a store and manages its change
// subscriptions. It owns no collection state: results and events are handed to
// the caller, who feeds them through a reconcile.Collection.
package syncclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/metrics"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Client wraps a store.Store with tagged errors, timeouts and subscription bookkeeping.
type Client struct {
	st      store.Store
	auth    auth.Authenticator
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed atomic.Bool
}

// New constructs a Client over st. a supplies the actor for created_by.
func New(st store.Store, a auth.Authenticator, opts ...Option) (*Client, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if a == nil {
		a = auth.Static("")
	}
	c := &Client{
		st:      st,
		auth:    a,
		timeout: DefaultOpTimeout,
		log:     zerolog.Nop(),
		now:     time.Now,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Actor returns the authenticated actor id.
func (c *Client) Actor() (string, error) {
	if !c.auth.IsAuthenticated() {
		return "", ErrUnauthorized
	}
	u, ok := c.auth.CurrentUser()
	if !ok || u == "" {
		return "", ErrUnauthorized
	}
	return u, nil
}

// Now returns the client clock in UTC.
func (c *Client) Now() time.Time { return c.now().UTC() }

// Stamp returns a copy of fields with updated_at set to the client clock.
func (c *Client) Stamp(fields model.Fields) model.Fields { return WithStamp(fields, c.Now()) }

// WithStamp returns a copy of fields with updated_at set to at.
func WithStamp(fields model.Fields, at time.Time) model.Fields {
	out := make(model.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[model.ColUpdatedAt] = at.UTC()
	return out
}

// Create inserts a row. fields must not carry id, created_at or updated_at.
// created_by defaults to the current actor.
func (c *Client) Create(ctx context.Context, table string, fields model.Fields) (model.Row, error) {
	var row model.Row
	err := c.do(ctx, table, "create", func(ctx context.Context) error {
		for _, k := range []string{model.ColID, model.ColCreatedAt, model.ColUpdatedAt} {
			if _, ok := fields[k]; ok {
				return fmt.Errorf("%w: %s is server-assigned", ErrValidation, k)
			}
		}
		actor, err := c.Actor()
		if err != nil {
			return err
		}
		payload := make(model.Fields, len(fields)+1)
		for k, v := range fields {
			payload[k] = v
		}
		if _, ok := payload[model.ColCreatedBy]; !ok {
			payload[model.ColCreatedBy] = actor
		}
		row, err = c.st.Create(ctx, table, payload)
		return err
	})
	return row, err
}

// Update applies a partial update. The caller must set updated_at (see Stamp);
// the store does not stamp it.
func (c *Client) Update(ctx context.Context, table, id string, fields model.Fields) (model.Row, error) {
	var row model.Row
	err := c.do(ctx, table, "update", func(ctx context.Context) error {
		if _, ok := fields[model.ColUpdatedAt]; !ok {
			return fmt.Errorf("%w: update must set %s", ErrValidation, model.ColUpdatedAt)
		}
		if _, err := c.Actor(); err != nil {
			return err
		}
		var err error
		row, err = c.st.Update(ctx, table, id, fields)
		return err
	})
	return row, err
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, table, "delete", func(ctx context.Context) error {
		if _, err := c.Actor(); err != nil {
			return err
		}
		return c.st.Delete(ctx, table, id)
	})
}

func (c *Client) Get(ctx context.Context, table, id string) (model.Row, error) {
	var row model.Row
	err := c.do(ctx, table, "get", func(ctx context.Context) error {
		var err error
		row, err = c.st.Get(ctx, table, id)
		return err
	})
	return row, err
}

// List returns every row of table, newest first.
func (c *Client) List(ctx context.Context, table string) ([]model.Row, error) {
	var rows []model.Row
	err := c.do(ctx, table, "list", func(ctx context.Context) error {
		var err error
		rows, err = c.st.List(ctx, table)
		return err
	})
	return rows, err
}

// Resync re-reads the whole table after a channel interruption. Events missed
// while disconnected cannot be replayed, so callers Reset their collection
// with the result.
func (c *Client) Resync(ctx context.Context, table string) ([]model.Row, error) {
	rows, err := c.List(ctx, table)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("table", table).Int("rows", len(rows)).Msg("resynced table")
	return rows, nil
}

func (c *Client) do(ctx context.Context, table, op string, fn func(context.Context) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := classify(fn(ctx))
	metrics.SyncOpSeconds.WithLabelValues(table, op).Observe(time.Since(start).Seconds())
	metrics.SyncOpsTotal.WithLabelValues(table, op, resultLabel(err)).Inc()
	if err != nil {
		c.log.Debug().Err(err).Str("table", table).Str("op", op).Msg("store operation failed")
	}
	return err
}

// Close ends every open subscription and rejects further calls. Safe to call multiple times.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	open := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		open = append(open, s)
	}
	c.mu.Unlock()
	for _, s := range open {
		_ = c.Unsubscribe(s)
	}
	return nil
}
