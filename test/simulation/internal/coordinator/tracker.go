// Package coordinator checks engine invariants while the simulation runs.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/spawn/types"
)

// Sentinel errors for invariant violations.
var (
	ErrDuplicateGrant = errors.New("drop granted more than once")
	ErrUnknownDrop    = errors.New("grant for a drop that was never announced")
)

// DuplicateGrantError reports a drop claimed by two claimants.
type DuplicateGrantError struct {
	ChatID    int64
	MessageID int64
	First     int64
	Second    int64
}

func (e *DuplicateGrantError) Error() string {
	return fmt.Sprintf("drop granted more than once: chat=%d handle=%d first=%d second=%d",
		e.ChatID, e.MessageID, e.First, e.Second)
}

func (e *DuplicateGrantError) Unwrap() error {
	return ErrDuplicateGrant
}

type dropKey struct {
	chatID    int64
	messageID int64
}

// Tracker records spawns, claims and attributions and validates that every
// drop is granted at most once.
//
// It implements types.Attributor so the engine's grants flow through it.
type Tracker struct {
	mu          sync.Mutex
	announced   map[dropKey]struct{}
	winners     map[dropKey]int64
	supersedes  int64
	attributed  int64
	duplicates  int
	violations  []error
	maxRecorded int
}

var _ types.Attributor = (*Tracker)(nil)

// NewTracker creates a tracker keeping at most maxRecorded violation details.
func NewTracker(maxRecorded int) *Tracker {
	return &Tracker{
		announced:   make(map[dropKey]struct{}),
		winners:     make(map[dropKey]int64),
		maxRecorded: maxRecorded,
	}
}

// Attribute implements types.Attributor.
func (t *Tracker) Attribute(_ context.Context, _ int64, _ string, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attributed++

	return nil
}

// Hooks returns engine hooks feeding the tracker.
func (t *Tracker) Hooks() *types.Hooks {
	return &types.Hooks{
		OnSpawned: func(_ context.Context, drop types.DropRecord) error {
			t.RecordSpawn(drop)
			return nil
		},
		OnSuperseded: func(context.Context, types.DropRecord, types.DropRecord) error {
			t.mu.Lock()
			t.supersedes++
			t.mu.Unlock()

			return nil
		},
		OnClaimed: func(_ context.Context, drop types.DropRecord, claimantID int64) error {
			return t.RecordClaim(drop, claimantID)
		},
	}
}

// RecordSpawn records an announced drop.
func (t *Tracker) RecordSpawn(drop types.DropRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.announced[dropKey{drop.ChatID, drop.MessageID}] = struct{}{}
}

// RecordClaim records the winner of drop.
//
// Returns:
//   - error: ErrDuplicateGrant or ErrUnknownDrop when an invariant is broken
func (t *Tracker) RecordClaim(drop types.DropRecord, claimantID int64) error {
	key := dropKey{drop.ChatID, drop.MessageID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if first, ok := t.winners[key]; ok {
		t.duplicates++
		err := &DuplicateGrantError{ChatID: drop.ChatID, MessageID: drop.MessageID, First: first, Second: claimantID}
		t.record(err)

		return err
	}
	t.winners[key] = claimantID

	// Spawn hooks run asynchronously, so a claim may be seen first; the
	// spawned drop is checked in Stats once the hooks settled.
	return nil
}

func (t *Tracker) record(err error) {
	if len(t.violations) < t.maxRecorded {
		t.violations = append(t.violations, err)
	}
}

// Stats returns current counts.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	unknown := 0
	for key := range t.winners {
		if _, ok := t.announced[key]; !ok {
			unknown++
		}
	}

	return Stats{
		Announced:   len(t.announced),
		Claimed:     len(t.winners),
		Superseded:  t.supersedes,
		Attributed:  t.attributed,
		Duplicates:  t.duplicates,
		UnknownDrop: unknown,
	}
}

// Violations returns the recorded invariant violations.
func (t *Tracker) Violations() []error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]error(nil), t.violations...)
}

// Stats is a snapshot of tracker counts.
type Stats struct {
	Announced   int
	Claimed     int
	Superseded  int64
	Attributed  int64
	Duplicates  int
	UnknownDrop int
}

// Check reports whether the counts are consistent once hooks settled.
//
// Returns:
//   - error: Joined violations, nil if every drop was granted at most once
//     and every grant matches one announced drop
func (s Stats) Check() error {
	var errs []error
	if s.Duplicates > 0 {
		errs = append(errs, fmt.Errorf("%w: %d times", ErrDuplicateGrant, s.Duplicates))
	}
	if s.UnknownDrop > 0 {
		errs = append(errs, fmt.Errorf("%w: %d drops", ErrUnknownDrop, s.UnknownDrop))
	}
	if s.Attributed != int64(s.Claimed+s.Duplicates) {
		errs = append(errs, fmt.Errorf("attributions (%d) do not match claims (%d)", s.Attributed, s.Claimed+s.Duplicates))
	}

	return errors.Join(errs...)
}
