package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/reconcile"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/syncclient"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/workspace"
)

func newWatchCmd(a *app) *cobra.Command {
	var maxInterval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream task, note and message changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lost := make(chan string, 1)
			s, err := a.open(ctx, workspace.WithDisconnectHandler(func(table string) {
				select {
				case lost <- table:
				default:
				}
			}))
			if err != nil {
				return err
			}
			defer s.Close()

			p := &printer{w: out(cmd)}
			defer watchFeature(p, "task", s.Tasks.Collection(), func(t model.Task) string { return t.Title })()
			defer watchFeature(p, "note", s.Notes.Collection(), func(n model.Note) string { return n.Title })()
			defer watchFeature(p, "message", s.Messages.Collection(), func(m model.Message) string { return m.Content })()

			p.printf("Watching %s (%s). Ctrl-C to stop.\n", a.target(), s.Mode())
			for {
				select {
				case <-ctx.Done():
					return nil
				case table := <-lost:
					p.printf("%s %s channel lost, reconnecting\n", yellow.Sprint("!"), table)
					if err := reconnect(ctx, s.Workspace, maxInterval, func(err error, wait time.Duration) {
						a.log.Warn().Err(err).Dur("retry_in", wait).Msg("reconnect failed")
					}); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					drain(lost)
					p.printf("%s reconnected\n", green.Sprint("✓"))
				}
			}
		},
	}
	cmd.Flags().DurationVar(&maxInterval, "max-retry-interval", 30*time.Second, "Upper bound between reconnect attempts")
	return cmd
}

// reconnect retries ws.Reconnect with exponential backoff until it succeeds,
// ctx ends, or the failure is not transient.
func reconnect(ctx context.Context, ws *workspace.Workspace, maxInterval time.Duration, notify backoff.Notify) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0

	op := func() error {
		err := ws.Reconnect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, workspace.ErrClosed) || !syncclient.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify)
}

// drain discards disconnect signals already covered by a finished reconnect:
// one dropped channel reports once per table subscription.
func drain(lost <-chan string) {
	for {
		select {
		case <-lost:
		default:
			return
		}
	}
}

// printer serializes output from listener goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func watchFeature[T model.Record](p *printer, kind string, coll *reconcile.Collection[T], label func(T) string) func() {
	return coll.Subscribe(func(ev model.ChangeEvent[T], prev *T) {
		rec := ev.New
		if rec == nil {
			rec = prev
		}
		title := ""
		if rec != nil {
			title = label(*rec)
		}
		p.printf("%s %-7s %s %q\n", eventLabel(ev.Type), kind, ev.Key, title)
	})
}

func (a *app) target() string {
	if a.prof.Local != "" {
		return "local bus"
	}
	return a.prof.ServiceURL
}
