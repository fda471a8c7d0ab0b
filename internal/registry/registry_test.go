package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"nhaguard/internal/domain"
	"nhaguard/internal/registry"
)

type countingStore struct {
	fetches atomic.Int64
	release chan struct{}
}

func (s *countingStore) FetchControl(ctx context.Context, controlID string) (domain.ControlDescriptor, error) {
	s.fetches.Add(1)
	if s.release != nil {
		<-s.release
	}
	return domain.ControlDescriptor{
		ControlID: controlID,
		Name:      "test control",
		Questions: []domain.QuestionSpec{{Key: "Q1", Phase: "one"}},
	}, nil
}

func TestEnsureSingleFlight(t *testing.T) {
	store := &countingStore{release: make(chan struct{})}
	reg := registry.New(store)

	const waiters = 8
	descs := make([]domain.ControlDescriptor, waiters)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			desc, err := reg.Ensure(context.Background(), "C-X")
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			descs[i] = desc
		}(i)
	}
	started.Wait()
	close(store.release)
	wg.Wait()

	if n := store.fetches.Load(); n != 1 {
		t.Fatalf("expected exactly one fetch, got %d", n)
	}
	for i := 1; i < waiters; i++ {
		if descs[i].Name != descs[0].Name || descs[i].ControlID != descs[0].ControlID {
			t.Fatalf("waiters received different descriptors")
		}
	}
	// warm path must not refetch
	if _, err := reg.Ensure(context.Background(), "C-X"); err != nil {
		t.Fatal(err)
	}
	if n := store.fetches.Load(); n != 1 {
		t.Fatalf("cached ensure refetched: %d", n)
	}
}

func TestEnsureUnknownControl(t *testing.T) {
	reg := registry.New(registry.BuiltinStore{})
	_, err := reg.Ensure(context.Background(), "C-NOPE")
	if !errors.Is(err, registry.ErrUnknownControl) {
		t.Fatalf("expected ErrUnknownControl, got %v", err)
	}
}

func TestBuiltinDefaultControl(t *testing.T) {
	reg := registry.New(registry.BuiltinStore{})
	desc, err := reg.Ensure(context.Background(), registry.DefaultControlID)
	if err != nil {
		t.Fatal(err)
	}
	if len(desc.Questions) != 4 {
		t.Fatalf("expected four questions, got %d", len(desc.Questions))
	}
	want := []string{"Q1", "Q2", "Q3", "Q4"}
	for i, q := range desc.Questions {
		if q.Key != want[i] {
			t.Fatalf("question %d key %s, want %s", i, q.Key, want[i])
		}
	}
}

func TestFileStorePrecedesBuiltin(t *testing.T) {
	dir := t.TempDir()
	descriptor := `control_id: C-305377
name: Overridden control
questions:
  - key: Q1
    phase: only question
`
	if err := os.WriteFile(filepath.Join(dir, "C-305377.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(registry.FallbackStore{
		registry.FileStore{Dir: dir},
		registry.BuiltinStore{},
	})
	desc, err := reg.Ensure(context.Background(), "C-305377")
	if err != nil {
		t.Fatal(err)
	}
	if desc.Name != "Overridden control" {
		t.Fatalf("file store not preferred: %s", desc.Name)
	}
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	descriptor := `control_id: C-DUP
name: broken
questions:
  - key: Q1
    phase: a
  - key: Q1
    phase: b
`
	if err := os.WriteFile(filepath.Join(dir, "C-DUP.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(registry.FileStore{Dir: dir})
	if _, err := reg.Ensure(context.Background(), "C-DUP"); err == nil {
		t.Fatal("expected duplicate-key error")
	}
}
