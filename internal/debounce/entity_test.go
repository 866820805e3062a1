package debounce

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingPersister struct {
	mu      sync.Mutex
	batches []map[string]Update
	fail    bool
}

func (p *recordingPersister) Persist(ctx context.Context, updates map[string]Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errBoomDebounce
	}
	cp := make(map[string]Update, len(updates))
	for k, v := range updates {
		cp[k] = v
	}
	p.batches = append(p.batches, cp)
	return nil
}

type debounceErr string

func (e debounceErr) Error() string { return string(e) }

var errBoomDebounce = debounceErr("persist failed")

func TestEntityDebouncer_LastWriteWins(t *testing.T) {
	p := &recordingPersister{}
	d := New(p, WithFlushInterval(time.Hour)) // manual flush via Stop

	d.Enqueue(Update{EntityID: "light.kitchen", State: "on", At: time.Now()})
	d.Enqueue(Update{EntityID: "light.kitchen", State: "off", At: time.Now().Add(time.Millisecond)})

	d.Start(context.Background())
	d.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) != 1 {
		t.Fatalf("expected 1 flushed batch, got %d", len(p.batches))
	}
	got := p.batches[0]["light.kitchen"]
	if got.State != "off" {
		t.Fatalf("expected last write 'off' to win, got %v", got.State)
	}
}

func TestEntityDebouncer_CapacityDropsOldest(t *testing.T) {
	p := &recordingPersister{}
	d := New(p, WithCapacity(2), WithFlushInterval(time.Hour))

	d.Enqueue(Update{EntityID: "a", State: 1})
	d.Enqueue(Update{EntityID: "b", State: 2})
	d.Enqueue(Update{EntityID: "c", State: 3})

	if d.QueueSize() != 2 {
		t.Fatalf("expected queue capped at 2, got %d", d.QueueSize())
	}
}

func TestEntityDebouncer_FailedPersistReMergesIntoPending(t *testing.T) {
	p := &recordingPersister{fail: true}
	d := New(p, WithFlushInterval(time.Hour))

	d.Enqueue(Update{EntityID: "a", State: 1, At: time.Now()})
	d.flush(context.Background())

	if d.PendingSize() != 1 {
		t.Fatalf("expected update re-merged into pending after failed persist, got pending size %d", d.PendingSize())
	}
}

func TestEntityDebouncer_StopPerformsFinalFlush(t *testing.T) {
	p := &recordingPersister{}
	d := New(p, WithFlushInterval(time.Hour))

	d.Enqueue(Update{EntityID: "a", State: 1, At: time.Now()})
	d.Start(context.Background())
	d.Stop()

	if d.PendingSize() != 0 {
		t.Fatalf("expected pending drained after stop, got %d", d.PendingSize())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) != 1 {
		t.Fatalf("expected exactly one flush on stop, got %d", len(p.batches))
	}
}
