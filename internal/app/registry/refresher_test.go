package registry

import (
	"context"
	"testing"
	"time"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

func TestStatsRefresherLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, token.VariantFull)

	if _, err := svc.CreateService(ctx, "alice"); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	refresher := NewStatsRefresher(svc, 10*time.Millisecond, nil)
	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Double start is a no-op.
	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := refresher.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Double stop is a no-op.
	if err := refresher.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
