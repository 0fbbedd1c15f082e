package syncclient

import (
	"context"
	"sync"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

// Subscription is a handle returned by Subscribe. Release it with Unsubscribe.
type Subscription struct {
	client *Client
	inner  store.Subscription
	once   sync.Once
}

// Table returns the subscribed table.
func (s *Subscription) Table() string { return s.inner.Table() }

// Done is closed when the subscription ends, including provider disconnects.
func (s *Subscription) Done() <-chan struct{} { return s.inner.Done() }

// Subscribe opens a change subscription on table. Each call opens an
// independent channel that redelivers every event; a second subscription to
// the same table on one client is logged as a warning.
func (c *Client) Subscribe(ctx context.Context, table string, fn store.Handler) (*Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if _, err := store.Table(table); err != nil {
		return nil, err
	}
	inner, err := c.st.Subscribe(ctx, table, fn)
	if err != nil {
		return nil, classify(err)
	}
	sub := &Subscription{client: c, inner: inner}

	c.mu.Lock()
	dup := 0
	for s := range c.subs {
		if s.Table() == table {
			dup++
		}
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	if dup > 0 {
		c.log.Warn().Str("table", table).Int("open", dup+1).Msg("multiple subscriptions on one table; events will be delivered more than once")
	}
	go func() {
		<-inner.Done()
		c.forget(sub)
	}()
	return sub, nil
}

// Unsubscribe releases sub. Calling it more than once is a no-op.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	var err error
	sub.once.Do(func() {
		err = sub.inner.Close()
		c.forget(sub)
	})
	return err
}

// Subscriptions reports how many subscriptions are open on table.
func (c *Client) Subscriptions(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for s := range c.subs {
		if s.Table() == table {
			n++
		}
	}
	return n
}

func (c *Client) forget(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// Close is shorthand for Unsubscribe.
func (s *Subscription) Close() error { return s.client.Unsubscribe(s) }
