// Package election elects a single leader among registry instances so the
// quarantine control loop's daily auto-review sweep runs exactly once per
// round no matter how many registry nodes are deployed.
package election

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexora-systems/registry-central/pkg/store"
)

// Manager manages distributed leadership election using a lease store.
type Manager struct {
	store     store.LeaseStore
	holderID  string
	leaseName string
	ttl       time.Duration
	epoch     int64

	onPromote func()
	onDemote  func()

	isLeader bool
	mu       sync.RWMutex

	ticker *time.Ticker
	stopCh chan struct{}
}

const defaultLeaseName = "quarantine-auto-review"

// NewManager creates a new Manager instance.
func NewManager(
	store store.LeaseStore,
	holderID string,
	leaseName string,
	ttl time.Duration,
	onPromote func(),
	onDemote func(),
) *Manager {
	if leaseName == "" {
		leaseName = defaultLeaseName
	}
	return &Manager{
		store:     store,
		holderID:  holderID,
		leaseName: leaseName,
		ttl:       ttl,
		onPromote: onPromote,
		onDemote:  onDemote,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background election loop.
func (em *Manager) Start(ctx context.Context) {
	em.ticker = time.NewTicker(em.ttl / 2)
	go func() {
		defer em.ticker.Stop()
		for {
			select {
			case <-em.ticker.C:
				em.attemptElection(ctx)
			case <-em.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("Manager started", "holderID", em.holderID, "leaseName", em.leaseName)
}

// Stop stops the election loop and releases the lease if currently leader.
func (em *Manager) Stop(ctx context.Context) {
	close(em.stopCh)
	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()
	if wasLeader {
		if err := em.store.Release(ctx, em.leaseName, em.holderID); err != nil {
			slog.Error("Failed to release lease on stop", "error", err, "holderID", em.holderID, "leaseName", em.leaseName)
		} else {
			slog.Info("Lease released on stop", "holderID", em.holderID, "leaseName", em.leaseName)
		}
	}
	slog.Info("Manager stopped", "holderID", em.holderID, "leaseName", em.leaseName)
}

// IsLeader returns true if this instance is currently the leader.
func (em *Manager) IsLeader() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.isLeader
}

// attemptElection performs the election logic.
func (em *Manager) attemptElection(ctx context.Context) {
	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()

	var newLeader bool
	var err error

	if wasLeader {
		// Try to renew
		err = em.store.Renew(ctx, em.leaseName, em.holderID, em.ttl)
		if err != nil {
			slog.Warn("Failed to renew lease", "error", err, "holderID", em.holderID, "leaseName", em.leaseName)
			newLeader = false
		} else {
			newLeader = true
			slog.Debug("Lease renewed", "holderID", em.holderID, "leaseName", em.leaseName)
		}
	} else {
		// Try to acquire
		newLeader, err = em.store.Acquire(ctx, em.leaseName, em.holderID, em.ttl)
		if err != nil {
			slog.Warn("Failed to acquire lease", "error", err, "holderID", em.holderID, "leaseName", em.leaseName)
			newLeader = false
		} else if newLeader {
			slog.Info("Lease acquired", "holderID", em.holderID, "leaseName", em.leaseName)
		} else {
			slog.Debug("Lease not acquired", "holderID", em.holderID, "leaseName", em.leaseName)
		}
	}

	em.mu.Lock()
	em.isLeader = newLeader
	em.mu.Unlock()

	// Call callbacks on transition
	if !wasLeader && newLeader {
		em.mu.Lock()
		em.epoch++
		em.mu.Unlock()
		if em.onPromote != nil {
			em.onPromote()
		}
		slog.Info("Promoted to leader", "holderID", em.holderID, "leaseName", em.leaseName)
	} else if wasLeader && !newLeader {
		if em.onDemote != nil {
			em.onDemote()
		}
		slog.Info("Demoted from leader", "holderID", em.holderID, "leaseName", em.leaseName)
	}
}

// GetEpoch returns the current leadership epoch, incremented every time
// this node is promoted to leader.
func (em *Manager) GetEpoch() int64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.epoch
}

// GetLeader returns the holder ID of the current lease, if any.
func (em *Manager) GetLeader(ctx context.Context) (string, bool, error) {
	lease, err := em.store.Get(ctx, em.leaseName)
	if err != nil {
		return "", false, err
	}
	if lease == nil {
		return "", false, nil
	}
	return lease.HolderID, true, nil
}

// Standalone is a no-op election manager for single-instance deployments:
// it is always leader.
type Standalone struct{}

func (Standalone) IsLeader() bool { return true }

func (Standalone) GetLeader(ctx context.Context) (string, bool, error) {
	return "self", true, nil
}

func (Standalone) GetEpoch() int64 { return 0 }
