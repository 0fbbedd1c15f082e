package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/localbus"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/memory"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/workspace"
)

func init() { color.NoColor = true }

// isolate points the profile lookup at an empty config dir.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ADMIN_SYNC_LOCAL_HOME", t.TempDir())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCtx(context.Background(), t, &bytes.Buffer{}, args...)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func runCtx(ctx context.Context, t *testing.T, w interface {
	Write([]byte) (int, error)
	String() string
}, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	root.SetOut(w)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--no-color"))
	err := root.ExecuteContext(ctx)
	return w.String(), err
}

func createdID(t *testing.T, out string) string {
	t.Helper()
	i := strings.LastIndex(out, ": ")
	require.Positive(t, i, out)
	return strings.TrimSpace(out[i+2:])
}

func TestLoadProfile(t *testing.T) {
	isolate(t)

	p, err := loadProfile("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", p.ServiceURL)
	assert.Equal(t, 10*time.Second, p.Timeout)

	path := filepath.Join(t.TempDir(), "adminctl.yml")
	require.NoError(t, os.WriteFile(path, []byte("service_url: http://admin.example:9000\nactor: alice\ntimeout: 3s\n"), 0o600))
	t.Setenv("ADMINCTL_ACTOR", "bob")

	p, err = loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://admin.example:9000", p.ServiceURL)
	assert.Equal(t, "bob", p.Actor, "env overrides file")
	assert.Equal(t, 3*time.Second, p.Timeout)

	_, err = loadProfile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLocalWorkflow(t *testing.T) {
	isolate(t)
	db := "--local=" + filepath.Join(t.TempDir(), "local.db")

	out, err := run(t, "tasks", "add", "Ship", "release", "--due", "2025-03-01", db, "--actor", "alice")
	require.NoError(t, err)
	taskID := createdID(t, out)

	out, err = run(t, "tasks", "list", "--json", db)
	require.NoError(t, err)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Ship release", tasks[0].Title)
	assert.Equal(t, model.TaskNotStarted, tasks[0].Status)
	assert.Equal(t, "alice", tasks[0].CreatedBy)
	require.NotNil(t, tasks[0].DueDate)

	out, err = run(t, "tasks", "status", taskID[:8], "completed", db, "--actor", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "is now completed")

	out, err = run(t, "feed", "--json", db)
	require.NoError(t, err)
	var feed []model.ActivityItem
	require.NoError(t, json.Unmarshal([]byte(out), &feed))
	require.Len(t, feed, 2)
	assert.Equal(t, model.ActivityTaskCompleted, feed[0].Type)
	assert.Equal(t, model.ActivityTaskAdded, feed[1].Type)
	assert.Equal(t, taskID, feed[0].ObjectID)

	out, err = run(t, "notes", "add", "--title", "Runbook", "--content", "v1", db)
	require.NoError(t, err)
	noteID := createdID(t, out)
	_, err = run(t, "notes", "edit", noteID, "--content", "v2", db)
	require.NoError(t, err)
	out, err = run(t, "notes", "list", "--json", db)
	require.NoError(t, err)
	var notes []model.Note
	require.NoError(t, json.Unmarshal([]byte(out), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "v2", notes[0].Content)

	_, err = run(t, "messages", "send", "hello", "team", db, "--actor", "alice")
	require.NoError(t, err)
	out, err = run(t, "messages", "list", db)
	require.NoError(t, err)
	assert.Contains(t, out, "alice: hello team")

	_, err = run(t, "tasks", "rm", taskID, db)
	require.NoError(t, err)
	out, err = run(t, "tasks", "list", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks.")
}

func TestTasksStatus_RejectsUnknownStatus(t *testing.T) {
	isolate(t)
	db := "--local=" + filepath.Join(t.TempDir(), "local.db")

	out, err := run(t, "tasks", "add", "Audit", db)
	require.NoError(t, err)
	_, err = run(t, "tasks", "status", createdID(t, out), "done", db)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func newService(t *testing.T, verifier api.Verifier) *httptest.Server {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	srv := httptest.NewServer(api.NewRouter(api.Deps{Store: st, Verifier: verifier, DevActor: "dev", Log: zerolog.Nop()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteWorkflow_DevActor(t *testing.T) {
	isolate(t)
	srv := newService(t, nil)

	_, err := run(t, "tasks", "add", "Rotate keys", "--service-url", srv.URL, "--actor", "bob")
	require.NoError(t, err)

	out, err := run(t, "tasks", "list", "--json", "--service-url", srv.URL, "--actor", "bob")
	require.NoError(t, err)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "bob", tasks[0].CreatedBy)

	out, err = run(t, "feed", "--service-url", srv.URL, "--actor", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "task_added bob \"Rotate keys\"")
}

func TestRemoteWorkflow_Token(t *testing.T) {
	isolate(t)
	j, err := auth.NewJWT("s3cret", "admin-sync")
	require.NoError(t, err)
	srv := newService(t, j)

	tok, err := j.Mint("carol", time.Hour)
	require.NoError(t, err)

	_, err = run(t, "notes", "add", "--title", "On-call", "--service-url", srv.URL, "--token", tok)
	require.NoError(t, err)
	out, err := run(t, "notes", "list", "--json", "--service-url", srv.URL, "--token", tok)
	require.NoError(t, err)
	var notes []model.Note
	require.NoError(t, json.Unmarshal([]byte(out), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "carol", notes[0].CreatedBy)

	bad, err := auth.NewJWT("other", "admin-sync")
	require.NoError(t, err)
	forged, err := bad.Mint("mallory", time.Hour)
	require.NoError(t, err)
	_, err = run(t, "notes", "list", "--service-url", srv.URL, "--token", forged)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestRemote_RequiresIdentity(t *testing.T) {
	isolate(t)
	srv := newService(t, nil)
	_, err := run(t, "tasks", "list", "--service-url", srv.URL)
	assert.ErrorContains(t, err, "no identity")
}

func TestWatch_StreamsChanges(t *testing.T) {
	isolate(t)
	srv := newService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		_, err := runCtx(ctx, t, buf, "watch", "--service-url", srv.URL, "--actor", "dave")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "Watching") }, 5*time.Second, 20*time.Millisecond)

	_, err := run(t, "tasks", "add", "Renew", "cert", "--service-url", srv.URL, "--actor", "erin")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "\"Renew cert\"") }, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, buf.String(), "+ task")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestReconnect(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(localbus.NewMapStorage())
	ws, err := workspace.Open(ctx, bus, auth.Static("alice"))
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.Eventually(t, func() bool { return bus.Subscribers(model.TableTasks) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, reconnect(ctx, ws, time.Second, nil))
	assert.Equal(t, 1, bus.Subscribers(model.TableTasks))

	require.NoError(t, ws.Close())
	err = reconnect(ctx, ws, time.Second, nil)
	assert.ErrorIs(t, err, workspace.ErrClosed)
}

func TestResolveID(t *testing.T) {
	items := []model.Note{
		{Base: model.Base{ID: "abc-1"}},
		{Base: model.Base{ID: "abd-2"}},
	}
	id, err := resolveID(items, "abc-1")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", id)

	id, err = resolveID(items, "abd")
	require.NoError(t, err)
	assert.Equal(t, "abd-2", id)

	_, err = resolveID(items, "ab")
	assert.Error(t, err)

	id, err = resolveID(items, "zzz")
	require.NoError(t, err)
	assert.Equal(t, "zzz", id)
}

func TestParseDue(t *testing.T) {
	at, err := parseDue("2025-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), at)

	_, err = parseDue("2025-01-02")
	assert.NoError(t, err)

	_, err = parseDue("next week")
	assert.Error(t, err)
}

func TestToken_MintsVerifiableToken(t *testing.T) {
	isolate(t)
	out, err := run(t, "token", "frank", "--secret", "s3cret", "--ttl", "1h")
	require.NoError(t, err)

	j, err := auth.NewJWT("s3cret", "admin-sync")
	require.NoError(t, err)
	actor, err := j.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "frank", actor)
}

func TestReconnect_ConsumesEveryTableSignal(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(localbus.NewMapStorage())
	lost := make(chan string, 1)
	ws, err := workspace.Open(ctx, bus, auth.Static("alice"), workspace.WithDisconnectHandler(func(table string) {
		select {
		case lost <- table:
		default:
		}
	}))
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, bus.Close())
	require.Eventually(t, func() bool { return len(lost) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, reconnect(ctx, ws, time.Second, nil))
	drain(lost)
	assert.Empty(t, lost)

	// a later drop is still reported
	require.NoError(t, bus.Close())
	require.Eventually(t, func() bool { return len(lost) == 1 }, time.Second, 10*time.Millisecond)
}
