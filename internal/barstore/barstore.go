// Package barstore holds the bounded in-memory bar series backing a chart.
//
// Bars and their paired volume bars live in a fixed-size circular buffer.
// Appending past capacity evicts the oldest element. The store is not safe
// for concurrent use: one owner (the ingestion adapter) mutates it and
// everything else reads it from the same goroutine.
package barstore

import "chartterm/internal/model"

// DefaultCapacity is the bar cap used when a non-positive capacity is given.
const DefaultCapacity = 500

// Store is a fixed-capacity ring of bars ordered by strictly increasing time.
type Store struct {
	bars []model.Bar
	vols []model.VolumeBar
	cap  int
	pos  int // next write position
	full bool
}

// New creates a store holding at most capacity bars.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		bars: make([]model.Bar, capacity),
		vols: make([]model.VolumeBar, capacity),
		cap:  capacity,
	}
}

// Cap returns the maximum number of bars retained.
func (s *Store) Cap() int { return s.cap }

// Len returns the number of bars currently stored.
func (s *Store) Len() int {
	if s.full {
		return s.cap
	}
	return s.pos
}

// At returns the bar at logical index i (0 = oldest).
func (s *Store) At(i int) model.Bar { return s.bars[s.index(i)] }

// VolumeAt returns the volume bar at logical index i (0 = oldest).
func (s *Store) VolumeAt(i int) model.VolumeBar { return s.vols[s.index(i)] }

// Last returns the newest bar, or false when the store is empty.
func (s *Store) Last() (model.Bar, bool) {
	n := s.Len()
	if n == 0 {
		return model.Bar{}, false
	}
	return s.At(n - 1), true
}

// Append adds a new newest bar and returns how many bars were evicted from
// the front to stay within capacity (0 or 1).
func (s *Store) Append(b model.Bar, v model.VolumeBar) int {
	evicted := 0
	if s.full {
		evicted = 1
	}
	s.bars[s.pos] = b
	s.vols[s.pos] = v
	s.pos = (s.pos + 1) % s.cap
	if s.pos == 0 && !s.full {
		s.full = true
	}
	return evicted
}

// ReplaceLast overwrites the newest bar in place. It is a no-op on an empty store.
func (s *Store) ReplaceLast(b model.Bar, v model.VolumeBar) {
	n := s.Len()
	if n == 0 {
		return
	}
	idx := s.index(n - 1)
	s.bars[idx] = b
	s.vols[idx] = v
}

// Set replaces the entire contents with klines (oldest first). Entries that
// are not strictly newer than their predecessor are skipped, and only the
// newest Cap() entries are kept. Returns the number of bars stored.
func (s *Store) Set(klines []model.Kline) int {
	s.Reset()
	ordered := make([]model.Kline, 0, len(klines))
	for _, k := range klines {
		if n := len(ordered); n > 0 && k.Time <= ordered[n-1].Time {
			continue
		}
		ordered = append(ordered, k)
	}
	if len(ordered) > s.cap {
		ordered = ordered[len(ordered)-s.cap:]
	}
	for _, k := range ordered {
		b, v := k.Split()
		s.Append(b, v)
	}
	return s.Len()
}

// Reset clears the store to empty.
func (s *Store) Reset() {
	s.pos = 0
	s.full = false
	clear(s.bars)
	clear(s.vols)
}

// Bars returns a copy of the stored bars, oldest first.
func (s *Store) Bars() []model.Bar {
	n := s.Len()
	out := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = s.At(i)
	}
	return out
}

// Volumes returns a copy of the stored volume bars, oldest first.
func (s *Store) Volumes() []model.VolumeBar {
	n := s.Len()
	out := make([]model.VolumeBar, n)
	for i := 0; i < n; i++ {
		out[i] = s.VolumeAt(i)
	}
	return out
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (s *Store) index(logical int) int {
	if s.full {
		return (s.pos + logical) % s.cap
	}
	return logical
}
