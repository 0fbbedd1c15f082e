package adminservice

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api/wire"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/config"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/remote"
)

func TestStartupHealthTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, startupHealthTimeout(1))
	assert.Equal(t, 60*time.Second, startupHealthTimeout(30))
	assert.Equal(t, 90*time.Second, startupHealthTimeout(45))
}

func TestNewVerifier(t *testing.T) {
	cfg := config.NewForTesting()
	v, err := newVerifier(cfg)
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.AuthMode = "jwt"
	cfg.JWTSecret = "s3cret"
	v, err = newVerifier(cfg)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestServe_LifeCycle(t *testing.T) {
	cfg := config.NewForTesting()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, cfg, zerolog.Nop(), ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + wire.HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	rs, err := remote.New(base, remote.WithActor("alice"))
	require.NoError(t, err)
	defer rs.Close()

	row, err := rs.Create(ctx, model.TableTasks, model.Fields{"title": "Ship", "status": "not_started"})
	require.NoError(t, err)
	assert.Equal(t, "alice", row[model.ColCreatedBy])

	rows, err := rs.List(ctx, model.TableTasks)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_BadDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "spanner"
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, Serve(context.Background(), cfg, zerolog.Nop(), ln))
}
