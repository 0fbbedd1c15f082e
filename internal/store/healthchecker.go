package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/health"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

// NewHealthChecker monitors a store. Stores implementing health.Pinger are
// pinged directly; others are probed with a Get on a sentinel id.
func NewHealthChecker(st Store, log zerolog.Logger, probeTimeout time.Duration) *health.Probe {
	var target health.Pinger = fallbackPinger{st}
	if p, ok := st.(health.Pinger); ok {
		target = p
	}
	return health.NewProbe("store", target, log, probeTimeout)
}

type fallbackPinger struct{ st Store }

func (f fallbackPinger) HealthPing(ctx context.Context) error {
	_, err := f.st.Get(ctx, model.TableTasks, "00000000-0000-0000-0000-000000000000")
	// ErrNotFound is acceptable: the store answered.
	if err == nil || errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}
