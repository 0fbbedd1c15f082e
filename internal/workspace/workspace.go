// Package workspace wires one sync client to the admin collections and the
// activity feed. A Workspace is opened over any store.Store; when the store
// can also persist the feed (the local bus) it runs in fallback mode and
// restores the feed instead of rebuilding it from table history.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/activity"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/localbus"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/reconcile"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/syncclient"
)

// Mode reports which backend a workspace runs on.
type Mode string

const (
	ModeNetwork  Mode = "network"
	ModeFallback Mode = "fallback"
)

// ErrClosed is returned by Reconnect after Close.
var ErrClosed = errors.New("workspace closed")

// Option configures Open.
type Option func(*settings)

type settings struct {
	log          zerolog.Logger
	opTimeout    time.Duration
	now          func() time.Time
	feedSize     int
	collCap      int
	onDisconnect func(table string)
}

func WithLogger(log zerolog.Logger) Option { return func(s *settings) { s.log = log } }

// WithOpTimeout sets the per-call store deadline.
func WithOpTimeout(d time.Duration) Option { return func(s *settings) { s.opTimeout = d } }

// WithClock sets the clock used to stamp updated_at.
func WithClock(now func() time.Time) Option { return func(s *settings) { s.now = now } }

// WithFeedSize sets the visible activity feed length.
func WithFeedSize(n int) Option { return func(s *settings) { s.feedSize = n } }

// WithCollectionCap bounds every collection. Zero means unbounded.
func WithCollectionCap(n int) Option { return func(s *settings) { s.collCap = n } }

// WithDisconnectHandler is called once per table whose subscription ends
// while the workspace is still open. Call Reconnect to recover.
func WithDisconnectHandler(fn func(table string)) Option {
	return func(s *settings) { s.onDisconnect = fn }
}

// Workspace owns the client, collections and feed for one admin session.
type Workspace struct {
	client *syncclient.Client
	mode   Mode
	log    zerolog.Logger
	cfg    settings

	Tasks       *Feature[model.Task]
	Notes       *Feature[model.Note]
	Messages    *Feature[model.Message]
	Links       *Feature[model.Link]
	Suggestions *Feature[model.Suggestion]
	Activity    *activity.Projector

	unwire []func()

	mu     sync.Mutex
	subs   []*syncclient.Subscription
	gen    int // bumped when subscriptions are replaced on purpose
	closed bool
}

type feature interface {
	Name() string
	subscribe(ctx context.Context) (*syncclient.Subscription, error)
	resync(ctx context.Context) error
}

// Open subscribes to every admin table, loads current rows and derives the
// activity feed. Subscriptions are opened before the initial load so no
// change committed in between is lost.
func Open(ctx context.Context, st store.Store, a auth.Authenticator, opts ...Option) (*Workspace, error) {
	cfg := settings{log: zerolog.Nop(), opTimeout: syncclient.DefaultOpTimeout, now: time.Now, feedSize: activity.DefaultCap}
	for _, o := range opts {
		o(&cfg)
	}

	client, err := syncclient.New(st, a,
		syncclient.WithLogger(cfg.log),
		syncclient.WithOpTimeout(cfg.opTimeout),
		syncclient.WithClock(cfg.now),
	)
	if err != nil {
		return nil, err
	}

	w := &Workspace{client: client, mode: ModeNetwork, log: cfg.log, cfg: cfg}
	collOpts := []reconcile.Option{reconcile.WithCap(cfg.collCap), reconcile.WithLogger(cfg.log)}
	if w.Tasks, err = newFeature[model.Task](client, model.TableTasks, collOpts...); err != nil {
		return nil, err
	}
	if w.Notes, err = newFeature[model.Note](client, model.TableNotes, collOpts...); err != nil {
		return nil, err
	}
	if w.Messages, err = newFeature[model.Message](client, model.TableMessages, collOpts...); err != nil {
		return nil, err
	}
	if w.Links, err = newFeature[model.Link](client, model.TableLinks, collOpts...); err != nil {
		return nil, err
	}
	if w.Suggestions, err = newFeature[model.Suggestion](client, model.TableSuggestions, collOpts...); err != nil {
		return nil, err
	}

	projOpts := []activity.Option{activity.WithCap(cfg.feedSize), activity.WithLogger(cfg.log)}
	sink, fallback := st.(activity.Store)
	if fallback {
		w.mode = ModeFallback
		projOpts = append(projOpts, activity.WithStore(sink), activity.WithHistory(localbus.MaxActivities))
	}
	w.Activity = activity.New(projOpts...)
	w.unwire = append(w.unwire,
		w.Tasks.coll.Subscribe(w.Activity.OnTask),
		w.Notes.coll.Subscribe(w.Activity.OnNote),
	)

	if err := w.subscribeAll(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.load(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}
	if fallback {
		if err := w.Activity.Load(ctx); err != nil {
			w.log.Warn().Err(err).Msg("restore activity feed")
		}
	}
	w.log.Info().Str("mode", string(w.mode)).Msg("workspace opened")
	return w, nil
}

// Mode reports the backend mode chosen at Open.
func (w *Workspace) Mode() Mode { return w.mode }

// Client returns the underlying sync client.
func (w *Workspace) Client() *syncclient.Client { return w.client }

func (w *Workspace) features() []feature {
	return []feature{w.Tasks, w.Notes, w.Messages, w.Links, w.Suggestions}
}

func (w *Workspace) subscribeAll(ctx context.Context) error {
	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()
	for _, f := range w.features() {
		sub, err := f.subscribe(context.WithoutCancel(ctx))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", f.Name(), err)
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
		go w.watch(sub, gen)
	}
	return nil
}

func (w *Workspace) watch(sub *syncclient.Subscription, gen int) {
	<-sub.Done()
	w.mu.Lock()
	expected := w.closed || w.gen != gen
	w.mu.Unlock()
	if expected {
		return
	}
	w.log.Warn().Str("table", sub.Table()).Msg("change subscription ended")
	if w.cfg.onDisconnect != nil {
		w.cfg.onDisconnect(sub.Table())
	}
}

// load resyncs every collection. In network mode the feed is rebuilt from
// the reloaded tasks and notes.
func (w *Workspace) load(ctx context.Context) error {
	for _, f := range w.features() {
		if err := f.resync(ctx); err != nil {
			return fmt.Errorf("load %s: %w", f.Name(), err)
		}
	}
	if w.mode == ModeNetwork {
		w.Activity.Rebuild(w.Tasks.Items(), w.Notes.Items())
	}
	return nil
}

// Resync refetches every table, replacing the collections.
func (w *Workspace) Resync(ctx context.Context) error { return w.load(ctx) }

// Reconnect closes whatever subscriptions remain, opens fresh ones and then
// resyncs, since events missed while disconnected cannot be replayed.
func (w *Workspace) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	old := w.subs
	w.subs = nil
	w.gen++
	w.mu.Unlock()

	for _, s := range old {
		_ = s.Close()
	}
	if err := w.subscribeAll(ctx); err != nil {
		w.mu.Lock()
		w.gen++
		w.mu.Unlock()
		w.closeSubs()
		return err
	}
	return w.load(ctx)
}

func (w *Workspace) closeSubs() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
}

// Close releases every subscription and the client. It is safe to call twice.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	unwire := w.unwire
	w.unwire = nil
	w.mu.Unlock()

	for _, fn := range unwire {
		fn()
	}
	w.closeSubs()
	return w.client.Close()
}
