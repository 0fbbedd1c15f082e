package syncclient

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultOpTimeout bounds a single CRUD call when the caller's context has no earlier deadline.
const DefaultOpTimeout = 10 * time.Second

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithOpTimeout sets the per-operation timeout. The value must be greater than zero.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("op timeout must be > 0")
		}
		c.timeout = d
		return nil
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// WithClock overrides the time source used by Stamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		c.now = now
		return nil
	}
}
