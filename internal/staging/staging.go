// Package staging manages the on-disk working set of candidate stills
// between sampling and scoring. Every request owns one Store rooted at
// <base>/<requestID>; each segment works in its own Area so segments never
// contend on the same files.
//
// An Area never submits more than its capacity of un-scored candidates at
// once. Excess candidates wait in an overflow directory (the "swap" area)
// in admission order and are pulled back in by DrainOverflow once a batch
// has been scored.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/frames"
)

var (
	// ErrDuplicate is returned when a timestamp is admitted twice.
	ErrDuplicate = errors.New("candidate already staged")

	// ErrInvalidTransition is returned for out-of-order lifecycle calls,
	// such as promoting a discarded candidate.
	ErrInvalidTransition = errors.New("invalid candidate transition")
)

// Area subdirectories.
const (
	pendingDir  = "pending"
	overflowDir = "overflow"
	keptDir     = "kept"
)

type state int

const (
	statePending state = iota + 1
	stateOverflow
	stateScored
	statePromoted
	stateDiscarded
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateOverflow:
		return "overflow"
	case stateScored:
		return "scored"
	case statePromoted:
		return "promoted"
	case stateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Store is the per-request staging root.
type Store struct {
	root string

	mu    sync.Mutex
	areas map[string]*Area
}

// New creates the staging root for requestID under baseDir.
func New(baseDir, requestID string) (*Store, error) {
	root := filepath.Join(baseDir, requestID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Store{root: root, areas: make(map[string]*Area)}, nil
}

// Root returns the request's staging directory.
func (s *Store) Root() string { return s.root }

// Dir returns a scratch directory under the root, creating it if needed.
// Samplers write freshly decoded stills here before they are admitted.
func (s *Store) Dir(name string) (string, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// Area returns the named area, creating it with the given capacity on
// first use.
func (s *Store) Area(name string, capacity int) (*Area, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("area %s: capacity must be positive, got %d", name, capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.areas[name]; ok {
		return a, nil
	}

	dir := filepath.Join(s.root, name)
	for _, sub := range []string{pendingDir, overflowDir, keptDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create area %s: %w", name, err)
		}
	}

	a := &Area{
		name:     name,
		dir:      dir,
		capacity: capacity,
		states:   make(map[int64]state),
	}
	s.areas[name] = a
	return a, nil
}

// Cleanup removes the whole staging root.
func (s *Store) Cleanup() error {
	log.Debug().Str("root", s.root).Msg("Removing staging root")
	return os.RemoveAll(s.root)
}

// Area is one bounded working set. It is not safe for concurrent use; a
// single worker owns an area at a time.
type Area struct {
	name     string
	dir      string
	capacity int

	pending  []frames.Candidate
	overflow []frames.Candidate
	states   map[int64]state
}

// Stats is a point-in-time count of an area's candidates by state.
type Stats struct {
	Pending   int
	Overflow  int
	Scored    int
	Promoted  int
	Discarded int
}

// Name returns the area name.
func (a *Area) Name() string { return a.name }

// Capacity returns the maximum number of pending candidates.
func (a *Area) Capacity() int { return a.capacity }

// Admit moves candidates into the area. While there is room and nothing is
// queued they become pending; everything else is queued in overflow.
func (a *Area) Admit(cands []frames.Candidate) error {
	queued := 0
	for _, c := range cands {
		if st, ok := a.states[c.TimestampMs]; ok {
			return fmt.Errorf("%w: %d in %s is %s", ErrDuplicate, c.TimestampMs, a.name, st)
		}

		if len(a.pending) < a.capacity && len(a.overflow) == 0 {
			moved, err := a.move(c, pendingDir)
			if err != nil {
				return err
			}
			a.pending = append(a.pending, moved)
			a.states[c.TimestampMs] = statePending
			continue
		}

		moved, err := a.move(c, overflowDir)
		if err != nil {
			return err
		}
		a.overflow = append(a.overflow, moved)
		a.states[c.TimestampMs] = stateOverflow
		queued++
	}

	if queued > 0 {
		log.Debug().
			Str("area", a.name).
			Int("admitted", len(cands)).
			Int("overflow", queued).
			Int("capacity", a.capacity).
			Msg("Candidates exceed scorer capacity, queued to overflow")
	}
	return nil
}

// Pending returns the current un-scored batch. It never exceeds Capacity.
func (a *Area) Pending() []frames.Candidate {
	out := make([]frames.Candidate, len(a.pending))
	copy(out, a.pending)
	return out
}

// MarkScored records that every pending candidate in batch has been
// scored, releasing its pending slot.
func (a *Area) MarkScored(batch []frames.Candidate) error {
	done := make(map[int64]bool, len(batch))
	for _, c := range batch {
		if st := a.states[c.TimestampMs]; st != statePending {
			return fmt.Errorf("%w: mark scored %d in %s: candidate is %s", ErrInvalidTransition, c.TimestampMs, a.name, st)
		}
		done[c.TimestampMs] = true
	}

	kept := a.pending[:0]
	for _, c := range a.pending {
		if done[c.TimestampMs] {
			a.states[c.TimestampMs] = stateScored
			continue
		}
		kept = append(kept, c)
	}
	a.pending = kept
	return nil
}

// DrainOverflow pulls queued candidates back into pending, oldest first, up
// to capacity. It returns how many were moved.
func (a *Area) DrainOverflow() (int, error) {
	moved := 0
	for len(a.overflow) > 0 && len(a.pending) < a.capacity {
		c := a.overflow[0]
		back, err := a.move(c, pendingDir)
		if err != nil {
			return moved, err
		}
		a.overflow = a.overflow[1:]
		a.pending = append(a.pending, back)
		a.states[c.TimestampMs] = statePending
		moved++
	}
	return moved, nil
}

// Promote keeps a scored candidate, moving its still into the kept
// directory. The returned candidate carries the new path.
func (a *Area) Promote(c frames.Candidate) (frames.Candidate, error) {
	if st := a.states[c.TimestampMs]; st != stateScored {
		return c, fmt.Errorf("%w: promote %d in %s: candidate is %s", ErrInvalidTransition, c.TimestampMs, a.name, st)
	}
	kept, err := a.move(c, keptDir)
	if err != nil {
		return c, err
	}
	a.states[c.TimestampMs] = statePromoted
	return kept, nil
}

// Discard drops a scored candidate and deletes its still.
func (a *Area) Discard(c frames.Candidate) error {
	if st := a.states[c.TimestampMs]; st != stateScored {
		return fmt.Errorf("%w: discard %d in %s: candidate is %s", ErrInvalidTransition, c.TimestampMs, a.name, st)
	}
	if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard %s: %w", c.Path, err)
	}
	a.states[c.TimestampMs] = stateDiscarded
	return nil
}

// Stats counts the area's candidates by state.
func (a *Area) Stats() Stats {
	var s Stats
	for _, st := range a.states {
		switch st {
		case statePending:
			s.Pending++
		case stateOverflow:
			s.Overflow++
		case stateScored:
			s.Scored++
		case statePromoted:
			s.Promoted++
		case stateDiscarded:
			s.Discarded++
		}
	}
	return s
}

func (a *Area) move(c frames.Candidate, sub string) (frames.Candidate, error) {
	dst := filepath.Join(a.dir, sub, filepath.Base(c.Path))
	if dst == c.Path {
		return c, nil
	}
	if err := os.Rename(c.Path, dst); err != nil {
		return c, fmt.Errorf("stage %d into %s/%s: %w", c.TimestampMs, a.name, sub, err)
	}
	c.Path = dst
	return c, nil
}
