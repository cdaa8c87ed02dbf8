package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"incubator-link/internal/device"
)

type Snapshot struct {
	Connected bool             `json:"connected"`
	Reason    string           `json:"reason,omitempty"`
	Mode      device.Mode      `json:"mode"`
	Endpoint  *device.Endpoint `json:"endpoint,omitempty"`

	LastFoundAt    time.Time `json:"last_found_at,omitempty"`
	LastChangeAt   time.Time `json:"last_change_at,omitempty"`
	LastDiscovery  string    `json:"last_discovery,omitempty"` // "complete" or the failure reason
	DiscoveryCount int       `json:"discovery_count"`
}

// Store keeps the latest engine status for the API and stream handlers. It is a
// link.Observer.
type Store struct {
	mu    sync.RWMutex
	cur   Snapshot
	clock clock.Clock

	subMu sync.Mutex
	subs  map[int64]chan struct{}
	subID atomic.Int64
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		cur:   Snapshot{Mode: device.ModeUnknown},
		clock: clk,
		subs:  map[int64]chan struct{}{},
	}
}

func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.cur
	if cp.Endpoint != nil {
		ep := *cp.Endpoint
		cp.Endpoint = &ep
	}
	return cp
}

func (s *Store) DeviceFound(ep device.Endpoint) {
	s.update(func(cur *Snapshot, now time.Time) {
		cp := ep
		cur.Endpoint = &cp
		cur.Mode = ep.Mode
		cur.LastFoundAt = now
	})
}

func (s *Store) ConnectionStatusChanged(connected bool, reason string) {
	s.update(func(cur *Snapshot, now time.Time) {
		if cur.Connected != connected {
			cur.LastChangeAt = now
		}
		cur.Connected = connected
		cur.Reason = reason
	})
}

func (s *Store) DiscoveryComplete() {
	s.update(func(cur *Snapshot, _ time.Time) {
		cur.LastDiscovery = "complete"
		cur.DiscoveryCount++
	})
}

func (s *Store) DiscoveryFailed(reason string) {
	s.update(func(cur *Snapshot, _ time.Time) {
		cur.LastDiscovery = reason
		cur.DiscoveryCount++
	})
}

func (s *Store) update(fn func(cur *Snapshot, now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cur, s.clock.Now())
	s.notifyLocked()
}

// Subscribe emits a signal (coalesced) when the store changes.
func (s *Store) Subscribe(ctx context.Context) <-chan struct{} {
	id := s.subID.Add(1)
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Store) notifyLocked() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// coalesce
		}
	}
}
