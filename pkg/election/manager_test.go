package election

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexora-systems/registry-central/pkg/store"
)

type fakeLeaseStore struct {
	mu     sync.Mutex
	holder string
	fail   bool
}

func (f *fakeLeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("lease store down")
	}
	if f.holder == "" || f.holder == holderID {
		f.holder = holderID
		return true, nil
	}
	return false, nil
}

func (f *fakeLeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("lease store down")
	}
	if f.holder != holderID {
		return errors.New("lease lost")
	}
	return nil
}

func (f *fakeLeaseStore) Release(ctx context.Context, name, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == holderID {
		f.holder = ""
	}
	return nil
}

func (f *fakeLeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == "" {
		return nil, nil
	}
	return &store.Lease{Name: name, HolderID: f.holder}, nil
}

func TestManagerAcquiresLeadership(t *testing.T) {
	ls := &fakeLeaseStore{}
	promoted := make(chan struct{}, 1)
	m := NewManager(ls, "node-1", "", time.Second, func() { promoted <- struct{}{} }, nil)

	m.attemptElection(context.Background())
	if !m.IsLeader() {
		t.Fatal("expected node-1 to become leader")
	}
	select {
	case <-promoted:
	default:
		t.Error("onPromote not called")
	}
	if m.GetEpoch() != 1 {
		t.Errorf("epoch = %d, want 1", m.GetEpoch())
	}
}

func TestManagerDoesNotStealHeldLease(t *testing.T) {
	ls := &fakeLeaseStore{holder: "node-other"}
	m := NewManager(ls, "node-1", "", time.Second, nil, nil)

	m.attemptElection(context.Background())
	if m.IsLeader() {
		t.Fatal("node-1 must not steal a held lease")
	}

	holder, ok, err := m.GetLeader(context.Background())
	if err != nil || !ok || holder != "node-other" {
		t.Errorf("GetLeader = %q/%v/%v", holder, ok, err)
	}
}

func TestManagerDemotesOnRenewFailure(t *testing.T) {
	ls := &fakeLeaseStore{}
	demoted := make(chan struct{}, 1)
	m := NewManager(ls, "node-1", "", time.Second, nil, func() { demoted <- struct{}{} })

	m.attemptElection(context.Background())
	if !m.IsLeader() {
		t.Fatal("setup: expected leadership")
	}

	ls.mu.Lock()
	ls.fail = true
	ls.mu.Unlock()

	m.attemptElection(context.Background())
	if m.IsLeader() {
		t.Fatal("expected demotion after renew failure")
	}
	select {
	case <-demoted:
	default:
		t.Error("onDemote not called")
	}
}

func TestStandaloneAlwaysLeads(t *testing.T) {
	s := Standalone{}
	if !s.IsLeader() {
		t.Error("standalone must always lead")
	}
	holder, ok, err := s.GetLeader(context.Background())
	if err != nil || !ok || holder != "self" {
		t.Errorf("GetLeader = %q/%v/%v", holder, ok, err)
	}
}
