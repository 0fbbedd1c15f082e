package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/memory"
)

func TestHealthChecker_FallbackProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memory.New()
	defer st.Close()

	hc := store.NewHealthChecker(st, zerolog.Nop(), time.Second)
	if hc.Name() != "store" {
		t.Fatalf("name: %s", hc.Name())
	}
	go hc.Start(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for !hc.IsHealthy() {
		if time.Now().After(deadline) {
			t.Fatalf("memory store never reported healthy")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
