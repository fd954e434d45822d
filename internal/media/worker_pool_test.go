package media

import (
	"testing"

	"go.uber.org/zap"
)

func testSettings(n int) Settings {
	return Settings{
		NumWorkers: n,
		ListenIP:   "127.0.0.1",
		RTCMinPort: 40000,
		RTCMaxPort: 40050,
	}
}

func TestNewWorkerPool_RejectsZeroWorkers(t *testing.T) {
	_, err := NewWorkerPool(testSettings(0), zap.NewNop())
	if err == nil {
		t.Fatal("expected error for NumWorkers <= 0")
	}
}

func TestNewWorkerPool_CreatesRequestedWorkerCount(t *testing.T) {
	pool, err := NewWorkerPool(testSettings(3), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pool.WorkerCount(); got != 3 {
		t.Fatalf("expected 3 workers, got %d", got)
	}
}

func TestWorkerPool_NextWorker_RoundRobinsFairly(t *testing.T) {
	pool, err := NewWorkerPool(testSettings(4), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := map[int]int{}
	for i := 0; i < 40; i++ {
		w, err := pool.NextWorker()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[w.id]++
	}
	if len(counts) != 4 {
		t.Fatalf("expected all 4 workers to be selected at least once, got %v", counts)
	}
	for id, c := range counts {
		if c != 10 {
			t.Errorf("expected worker %d to be selected 10 times, got %d", id, c)
		}
	}
}

func TestWorkerPool_NextWorker_SkipsUnhealthy(t *testing.T) {
	pool, err := NewWorkerPool(testSettings(3), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.workers[0].MarkUnhealthy()
	pool.workers[1].MarkUnhealthy()

	for i := 0; i < 10; i++ {
		w, err := pool.NextWorker()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.id != pool.workers[2].id {
			t.Fatalf("expected only the healthy worker to be returned, got worker %d", w.id)
		}
	}
}

func TestWorkerPool_NextWorker_AllUnhealthyErrors(t *testing.T) {
	pool, err := NewWorkerPool(testSettings(2), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, w := range pool.workers {
		w.MarkUnhealthy()
	}

	if _, err := pool.NextWorker(); err == nil {
		t.Fatal("expected error when every worker is unhealthy")
	}
}
