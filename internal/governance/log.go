// Package governance keeps historized, delayed-activation versions of the
// protocol parameters: fees, settlement periods, treasury and fallback data
// provider. Every family is an append-only Log; the effective value at a
// given time is a pure lookup.
package governance

import (
	"fmt"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Log is an append-only version history of one parameter family. The zero
// value is not usable; construct with NewLog. Log is not safe for concurrent
// use; the ledger serialises access.
type Log[T any] struct {
	versions []domain.ParameterVersion[T]
}

// NewLog returns a log whose first version is active from start.
func NewLog[T any](initial T, start uint64) *Log[T] {
	return &Log[T]{
		versions: []domain.ParameterVersion[T]{{
			PreviousValue: initial,
			CurrentValue:  initial,
			StartTime:     start,
		}},
	}
}

// Update appends value, effective at now+delay. It fails while another
// update is still pending.
func (l *Log[T]) Update(value T, now, delay uint64) (domain.ParameterVersion[T], error) {
	last := l.versions[len(l.versions)-1]
	if last.StartTime > now {
		return domain.ParameterVersion[T]{}, fmt.Errorf("governance: update: %w", domain.ErrPendingUpdate)
	}
	v := domain.ParameterVersion[T]{
		PreviousValue: last.CurrentValue,
		CurrentValue:  value,
		StartTime:     now + delay,
	}
	l.versions = append(l.versions, v)
	return v, nil
}

// Revoke cancels the pending update. The entry stays in the history but
// its value is restored to the previous one, active from now. It returns
// the revoked value.
func (l *Log[T]) Revoke(now uint64) (T, error) {
	i := len(l.versions) - 1
	last := l.versions[i]
	if last.StartTime <= now {
		var zero T
		return zero, fmt.Errorf("governance: revoke: %w", domain.ErrNoPendingUpdate)
	}
	l.versions[i] = domain.ParameterVersion[T]{
		PreviousValue: last.PreviousValue,
		CurrentValue:  last.PreviousValue,
		StartTime:     now,
	}
	return last.CurrentValue, nil
}

// Index returns the index of the version effective at t. Versions start in
// increasing order, so the answer is the last one that has started.
func (l *Log[T]) Index(t uint64) int {
	for i := len(l.versions) - 1; i > 0; i-- {
		if l.versions[i].StartTime <= t {
			return i
		}
	}
	return 0
}

// At returns the value effective at t.
func (l *Log[T]) At(t uint64) T {
	return l.versions[l.Index(t)].CurrentValue
}

// Current returns the full version effective at now.
func (l *Log[T]) Current(now uint64) domain.ParameterVersion[T] {
	return l.versions[l.Index(now)]
}

// Latest returns the most recent version, pending or not.
func (l *Log[T]) Latest() domain.ParameterVersion[T] {
	return l.versions[len(l.versions)-1]
}

// Pending returns the update scheduled after now, if any.
func (l *Log[T]) Pending(now uint64) (domain.ParameterVersion[T], bool) {
	last := l.versions[len(l.versions)-1]
	if last.StartTime > now {
		return last, true
	}
	return domain.ParameterVersion[T]{}, false
}

// Get returns version i.
func (l *Log[T]) Get(i int) (domain.ParameterVersion[T], error) {
	if i < 0 || i >= len(l.versions) {
		return domain.ParameterVersion[T]{}, fmt.Errorf("governance: version %d: %w", i, domain.ErrNotFound)
	}
	return l.versions[i], nil
}

// Len returns the number of versions.
func (l *Log[T]) Len() int {
	return len(l.versions)
}

// History returns the last n versions, newest last. n <= 0 or larger than
// Len returns all of them.
func (l *Log[T]) History(n int) []domain.ParameterVersion[T] {
	start := 0
	if n > 0 && n < len(l.versions) {
		start = len(l.versions) - n
	}
	out := make([]domain.ParameterVersion[T], len(l.versions)-start)
	copy(out, l.versions[start:])
	return out
}
