package jobs

import (
	"context"
	"testing"
	"time"

	"clawback/internal/notify"
)

func TestWorker_JobContextCarriesNotifyClient(t *testing.T) {
	client := &notify.Client{BaseURL: "http://paas.local"}
	parent, cancel := context.WithCancel(notify.WithClient(context.Background(), client))
	w := &Worker{BaseCtx: parent, JobTimeout: time.Minute}

	ctx, jobCancel := w.jobContext()
	defer jobCancel()
	if got := notify.ClientFromContext(ctx); got != client {
		t.Fatalf("notify client = %v, want the one from the base context", got)
	}

	// Shutting down the base context must not abort an in-flight job.
	cancel()
	select {
	case <-ctx.Done():
		t.Fatal("job context cancelled with its base context")
	default:
	}
}

func TestWorker_JobContextDefaults(t *testing.T) {
	w := &Worker{}
	ctx, cancel := w.jobContext()
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("job context must carry a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 25*time.Minute {
		t.Fatalf("deadline in %v, want within the 25 minute default", remaining)
	}
}
