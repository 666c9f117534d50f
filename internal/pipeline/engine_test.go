package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeWindowStore struct {
	mu      sync.Mutex
	initial Window
	saveErr error
	saved   []BatchResult
	runIDs  []string
}

func (s *fakeWindowStore) LoadWindow(context.Context) (Window, error) {
	return s.initial, nil
}

func (s *fakeWindowStore) SaveBatch(_ context.Context, runID string, result BatchResult, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, result)
	s.runIDs = append(s.runIDs, runID)
	return nil
}

func startEngine(t *testing.T, store WindowStore) (*Engine, context.CancelFunc, <-chan error) {
	t.Helper()

	engine := NewEngine(DefaultConfig(), zerolog.Nop(), EngineOptions{Store: store})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	select {
	case <-engine.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("engine stopped before becoming ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("engine did not become ready")
	}
	return engine, cancel, done
}

func TestEngine_AdvancesWindowAcrossBatches(t *testing.T) {
	t.Parallel()

	store := &fakeWindowStore{}
	engine, cancel, done := startEngine(t, store)
	defer cancel()

	cfg := DefaultConfig()
	a := newTestArticle(t, cfg, "a", "rbc.ru", "Gazprom approves dividend", "", testEpoch)
	b := newTestArticle(t, cfg, "b", "tass.ru", "Gazprom approves dividend", "", testEpoch.Add(time.Minute))

	first, err := engine.Submit(context.Background(), []Article{a}, testEpoch)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	second, err := engine.Submit(context.Background(), []Article{b}, testEpoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids, got %q and %q", first.RunID, second.RunID)
	}
	if len(second.Result.Evaluations) != 1 || len(second.Result.Evaluations[0].Cluster.Members) != 2 {
		t.Fatalf("expected second batch to join the open cluster")
	}
	if got := engine.Window(); got.Version != 2 || len(got.Clusters) != 1 {
		t.Fatalf("unexpected engine window: version=%d clusters=%d", got.Version, len(got.Clusters))
	}

	store.mu.Lock()
	saved := len(store.saved)
	store.mu.Unlock()
	if saved != 2 {
		t.Fatalf("expected both batches to be persisted, got %d", saved)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if _, err := engine.Submit(context.Background(), []Article{a}, testEpoch); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected stopped engine error, got %v", err)
	}
}

func TestEngine_StartsFromStoredWindow(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	a := newTestArticle(t, cfg, "a", "rbc.ru", "Gazprom approves dividend", "", testEpoch)
	prior := Run(Window{}, []Article{a}, cfg, testEpoch).Window

	engine, cancel, _ := startEngine(t, &fakeWindowStore{initial: prior})
	defer cancel()

	if got := engine.Window(); got.Version != prior.Version || len(got.Clusters) != 1 {
		t.Fatalf("expected stored window to be loaded, got version=%d clusters=%d", got.Version, len(got.Clusters))
	}
}

func TestEngine_FailedSaveKeepsWindow(t *testing.T) {
	t.Parallel()

	store := &fakeWindowStore{saveErr: errors.New("database unavailable")}
	engine, cancel, _ := startEngine(t, store)
	defer cancel()

	cfg := DefaultConfig()
	a := newTestArticle(t, cfg, "a", "rbc.ru", "Gazprom approves dividend", "", testEpoch)
	if _, err := engine.Submit(context.Background(), []Article{a}, testEpoch); err == nil {
		t.Fatalf("expected persistence failure to be returned")
	}
	if got := engine.Window(); got.Version != 0 || len(got.Clusters) != 0 {
		t.Fatalf("expected window to stay at its previous version, got version=%d clusters=%d", got.Version, len(got.Clusters))
	}
}
