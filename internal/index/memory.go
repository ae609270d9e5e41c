package index

import (
	"context"
	"sync"

	"e2e_trace/internal/model"

	"github.com/bits-and-blooms/bloom/v3"
)

type (
	// ExactSet is an exact in-memory membership index.
	ExactSet struct {
		mu   sync.RWMutex
		tags map[model.TraceTag]struct{}
	}

	// Bloom is an in-memory membership index with a bounded false-positive rate.
	Bloom struct {
		mu       sync.RWMutex
		filter   *bloom.BloomFilter
		capacity uint
		rate     float64
	}

	// NeighborMap is an in-memory neighbor index. Neighbors are kept in
	// insertion order.
	NeighborMap struct {
		mu    sync.RWMutex
		peers map[model.UserID][]model.UserID
		seen  map[model.Link]struct{}
	}

	// KeyMap is an in-memory identity key store.
	KeyMap struct {
		mu   sync.RWMutex
		keys map[model.UserID]model.IdentityKey
	}
)

func NewExactSet() *ExactSet {
	return &ExactSet{tags: make(map[model.TraceTag]struct{})}
}

func (s *ExactSet) Add(_ context.Context, tags ...model.TraceTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		s.tags[t] = struct{}{}
	}
	return nil
}

func (s *ExactSet) Exists(_ context.Context, tag model.TraceTag) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tags[tag]
	return ok, nil
}

func (s *ExactSet) MExists(_ context.Context, tags []model.TraceTag) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, len(tags))
	for i, t := range tags {
		_, out[i] = s.tags[t]
	}
	return out, nil
}

func (s *ExactSet) MExistsPack(ctx context.Context, batches [][]model.TraceTag) ([][]bool, error) {
	return PackEach(ctx, s, batches)
}

func (s *ExactSet) FalsePositiveRate() float64 {
	return 0
}

func (s *ExactSet) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = make(map[model.TraceTag]struct{})
	return nil
}

func (s *ExactSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags)
}

// NewBloom sizes a filter for capacity tags at the given false-positive rate.
func NewBloom(capacity uint, rate float64) *Bloom {
	return &Bloom{
		filter:   bloom.NewWithEstimates(capacity, rate),
		capacity: capacity,
		rate:     rate,
	}
}

func (b *Bloom) Add(_ context.Context, tags ...model.TraceTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tags {
		b.filter.Add(t[:])
	}
	return nil
}

func (b *Bloom) Exists(_ context.Context, tag model.TraceTag) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.Test(tag[:]), nil
}

func (b *Bloom) MExists(_ context.Context, tags []model.TraceTag) ([]bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]bool, len(tags))
	for i, t := range tags {
		out[i] = b.filter.Test(t[:])
	}
	return out, nil
}

func (b *Bloom) MExistsPack(ctx context.Context, batches [][]model.TraceTag) ([][]bool, error) {
	return PackEach(ctx, b, batches)
}

func (b *Bloom) FalsePositiveRate() float64 {
	return b.rate
}

func (b *Bloom) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.ClearAll()
	return nil
}

func NewNeighborMap() *NeighborMap {
	return &NeighborMap{
		peers: make(map[model.UserID][]model.UserID),
		seen:  make(map[model.Link]struct{}),
	}
}

func (m *NeighborMap) Add(_ context.Context, links ...model.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		if l.Sender == l.Receiver {
			continue
		}
		m.link(l.Sender, l.Receiver)
		m.link(l.Receiver, l.Sender)
	}
	return nil
}

func (m *NeighborMap) link(a, b model.UserID) {
	k := model.Link{Sender: a, Receiver: b}
	if _, ok := m.seen[k]; ok {
		return
	}
	m.seen[k] = struct{}{}
	m.peers[a] = append(m.peers[a], b)
}

func (m *NeighborMap) Query(_ context.Context, users []model.UserID) (map[model.UserID][]model.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.UserID][]model.UserID, len(users))
	for _, u := range users {
		if peers, ok := m.peers[u]; ok {
			out[u] = append([]model.UserID(nil), peers...)
		}
	}
	return out, nil
}

func NewKeyMap() *KeyMap {
	return &KeyMap{keys: make(map[model.UserID]model.IdentityKey)}
}

func (m *KeyMap) Register(user model.UserID, ik model.IdentityKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[user] = ik
}

func (m *KeyMap) Query(_ context.Context, users []model.UserID) (map[model.UserID]model.IdentityKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.UserID]model.IdentityKey, len(users))
	for _, u := range users {
		if ik, ok := m.keys[u]; ok {
			out[u] = ik
		}
	}
	return out, nil
}
