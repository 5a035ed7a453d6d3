// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// In-memory variable store: {(name, vendor_guid)} -> record, stable
// enumeration order, and quota accounting (spec.md §4.B). Grounded on the
// teacher's drivedb.DriveDb / smart.ScanDevices "slice-backed, ordered
// collection" shape.

package variable

import (
	"errors"
	"fmt"
)

// Defaults from spec.md §3 invariant 6.
const (
	DefaultMaxStorage = 64 * 1024
	DefaultMaxSize    = 32 * 1024
)

// ErrNotFound is returned by Get/Next when no matching record exists.
var ErrNotFound = errors.New("variable: not found")

// ErrOutOfResources is returned when a mutation would exceed MaxStorage or
// MaxSize (spec.md §3 invariant 6).
var ErrOutOfResources = errors.New("variable: out of resources")

// Store is the in-memory variable database. It owns every record's byte
// buffers exclusively (spec.md §3 "Ownership"); callers must not retain
// slices returned from it without cloning if they intend to mutate the
// store concurrently with using them — in this single-threaded engine
// (spec.md §5) that never happens, so Get/Next return the store's own
// slices directly for efficiency, same as the teacher's Get() returning
// borrowed C buffers without copying the surrounding struct.
type Store struct {
	MaxStorage int
	MaxSize    int

	// order is the insertion-ordered key sequence. A tombstoned (deleted)
	// key is removed from order immediately, so indices don't linger, but
	// deletions never reorder the remaining live keys relative to each
	// other — this is what keeps a GetNextVariableName traversal from ever
	// repeating an entry (spec.md §4.B).
	order []Key
	recs  map[Key]*Record

	used int // running total of Size() over all live records
}

// New constructs an empty store with the given quotas. A zero value for
// either falls back to the spec.md §3 defaults.
func New(maxStorage, maxSize int) *Store {
	if maxStorage <= 0 {
		maxStorage = DefaultMaxStorage
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{
		MaxStorage: maxStorage,
		MaxSize:    maxSize,
		recs:       make(map[Key]*Record),
	}
}

// Get returns the record stored under k, or ErrNotFound.
func (s *Store) Get(k Key) (Record, error) {
	r, ok := s.recs[k]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

// Exists reports whether a record is stored under k.
func (s *Store) Exists(k Key) bool {
	_, ok := s.recs[k]
	return ok
}

// Put inserts or replaces the record under k. Put performs NO policy,
// authentication, or attribute-compatibility checks — those are the
// authenticator's and policy engine's responsibility (spec.md §4.B: "full
// contract defined by the policy + authenticator"). Put only enforces the
// quota invariant (spec.md §3 invariant 6), atomically: on
// ErrOutOfResources, no mutation is applied.
func (s *Store) Put(r Record) error {
	newSize := r.Size()
	if newSize > s.MaxSize {
		return fmt.Errorf("%w: record size %d exceeds MaxSize %d", ErrOutOfResources, newSize, s.MaxSize)
	}

	existing, had := s.recs[r.Key]
	delta := newSize
	if had {
		delta -= existing.Size()
	}
	if s.used+delta > s.MaxStorage {
		return fmt.Errorf("%w: storage %d exceeds MaxStorage %d", ErrOutOfResources, s.used+delta, s.MaxStorage)
	}

	rc := r.Clone()
	s.recs[r.Key] = &rc
	s.used += delta
	if !had {
		s.order = append(s.order, r.Key)
	}
	return nil
}

// Delete removes the record under k, returning its bytes to the quota
// pool (spec.md §3 "Lifecycle"). Deleting a non-existent key is a no-op.
func (s *Store) Delete(k Key) {
	existing, ok := s.recs[k]
	if !ok {
		return
	}
	s.used -= existing.Size()
	delete(s.recs, k)
	for i, ok := range s.order {
		if ok == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Next enumerates records in stable insertion order. A zero-value prev
// (empty Name) starts enumeration at the first record. Returns
// ErrNotFound once prev is the last record, matching
// GetNextVariableName's contract (spec.md §4.B, §4.E).
func (s *Store) Next(prev Key) (Key, error) {
	if prev.Name == "" {
		if len(s.order) == 0 {
			return Key{}, ErrNotFound
		}
		return s.order[0], nil
	}
	for i, k := range s.order {
		if k == prev {
			if i+1 < len(s.order) {
				return s.order[i+1], nil
			}
			return Key{}, ErrNotFound
		}
	}
	return Key{}, ErrNotFound
}

// QueryInfo is the result of Query: spec.md §4.B's
// (max_storage, remaining_storage, max_per_var).
type QueryInfo struct {
	MaxStorage       int
	RemainingStorage int
	MaxPerVariable   int
}

// Query reports storage accounting restricted to records whose attributes
// match every bit in mask (spec.md §4.B). When mask is 0, every record
// counts.
func (s *Store) Query(mask Attributes) QueryInfo {
	if mask == 0 {
		return QueryInfo{
			MaxStorage:       s.MaxStorage,
			RemainingStorage: s.MaxStorage - s.used,
			MaxPerVariable:   s.MaxSize,
		}
	}
	used := 0
	for _, k := range s.order {
		r := s.recs[k]
		if r.Attributes.Has(mask) {
			used += r.Size()
		}
	}
	return QueryInfo{
		MaxStorage:       s.MaxStorage,
		RemainingStorage: s.MaxStorage - used,
		MaxPerVariable:   s.MaxSize,
	}
}

// Snapshot returns a deep copy of every record currently stored, in
// enumeration order, for the persistence adapter (spec.md §4.F).
func (s *Store) Snapshot() []Record {
	out := make([]Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.recs[k].Clone())
	}
	return out
}

// Restore replaces the store's contents with recs, in the given order,
// without re-running quota checks per-record (the snapshot was produced by
// a store that already enforced them) but still recomputing s.used and
// rejecting a snapshot that would violate MaxStorage, so a corrupt or
// hand-edited blob can't silently desync accounting.
func (s *Store) Restore(recs []Record) error {
	used := 0
	m := make(map[Key]*Record, len(recs))
	order := make([]Key, 0, len(recs))
	for _, r := range recs {
		if _, dup := m[r.Key]; dup {
			return fmt.Errorf("variable: duplicate key in snapshot: %+v", r.Key)
		}
		rc := r.Clone()
		m[r.Key] = &rc
		order = append(order, r.Key)
		used += r.Size()
	}
	if used > s.MaxStorage {
		return fmt.Errorf("%w: snapshot uses %d, MaxStorage %d", ErrOutOfResources, used, s.MaxStorage)
	}
	s.recs = m
	s.order = order
	s.used = used
	return nil
}
