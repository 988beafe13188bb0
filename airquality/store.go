package airquality

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var ErrOutOfSequence = errors.New("reading is out of sequence")

// Store holds the latest Reading. It has a single writer (the sensor task)
// and any number of readers; each Publish is one atomic pointer swap, so a
// reader observes either the previous or the new Reading in full.
type Store struct {
	current atomic.Pointer[Reading]
}

func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current Reading. The sequence number must be 0 for the
// first Reading and previous+1 afterwards.
func (s *Store) Publish(r Reading) error {
	prev := s.current.Load()
	var want uint64
	if prev != nil {
		want = prev.SequenceNumber + 1
	}
	if r.SequenceNumber != want {
		return errors.Wrapf(ErrOutOfSequence, "got %d, want %d", r.SequenceNumber, want)
	}
	if !s.current.CompareAndSwap(prev, &r) {
		return errors.Wrap(ErrOutOfSequence, "concurrent publish")
	}
	return nil
}

// Current returns the latest Reading, or false before the first Publish.
func (s *Store) Current() (Reading, bool) {
	r := s.current.Load()
	if r == nil {
		return Reading{}, false
	}
	return *r, true
}
