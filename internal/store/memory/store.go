// Package memory provides an in-process dedup set and stream for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

// Entry is one appended stream entry.
type Entry struct {
	ID     string
	Fields listing.Fields
}

// Store implements gateway.Membership and gateway.Stream in memory.
type Store struct {
	mu      sync.Mutex
	sets    map[string]map[string]struct{}
	streams map[string][]Entry
	groups  map[string]map[string]int
	seq     int

	containsErr error
	addErr      error
	appendErr   error
	groupErr    error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		sets:    make(map[string]map[string]struct{}),
		streams: make(map[string][]Entry),
		groups:  make(map[string]map[string]int),
	}
}

// FailContains makes every Contains call return err until cleared with nil.
func (s *Store) FailContains(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containsErr = err
}

// FailAdd makes every Add call return err until cleared with nil.
func (s *Store) FailAdd(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addErr = err
}

// FailAppend makes every Append call return err until cleared with nil.
func (s *Store) FailAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailCreateGroup makes every CreateGroup call return err until cleared with nil.
func (s *Store) FailCreateGroup(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupErr = err
}

// Contains reports whether value is in the named set.
func (s *Store) Contains(_ context.Context, set, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsErr != nil {
		return false, s.containsErr
	}
	_, ok := s.sets[set][value]
	return ok, nil
}

// Add inserts value and reports whether it was new.
func (s *Store) Add(_ context.Context, set, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return false, s.addErr
	}
	members, ok := s.sets[set]
	if !ok {
		members = make(map[string]struct{})
		s.sets[set] = members
	}
	if _, exists := members[value]; exists {
		return false, nil
	}
	members[value] = struct{}{}
	return true, nil
}

// Append adds an entry to the stream, creating it on first use.
func (s *Store) Append(_ context.Context, stream string, fields listing.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return "", s.appendErr
	}
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.streams[stream] = append(s.streams[stream], Entry{
		ID:     id,
		Fields: append(listing.Fields(nil), fields...),
	})
	return id, nil
}

// CreateGroup registers a consumer group on stream.
func (s *Store) CreateGroup(_ context.Context, stream, group string, fromNow, createIfAbsent bool) (gateway.GroupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupErr != nil {
		return "", s.groupErr
	}
	entries, exists := s.streams[stream]
	if !exists {
		if !createIfAbsent {
			return "", fmt.Errorf("stream %q does not exist", stream)
		}
		s.streams[stream] = nil
	}
	groups, ok := s.groups[stream]
	if !ok {
		groups = make(map[string]int)
		s.groups[stream] = groups
	}
	if _, ok := groups[group]; ok {
		return gateway.GroupExists, nil
	}
	offset := 0
	if fromNow {
		offset = len(entries)
	}
	groups[group] = offset
	return gateway.GroupCreated, nil
}

// Entries returns a copy of the entries in stream.
func (s *Store) Entries(stream string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.streams[stream]))
	copy(out, s.streams[stream])
	return out
}

// Members returns the sorted members of set.
func (s *Store) Members(set string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[set]))
	for v := range s.sets[set] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// GroupOffset returns the position a group starts reading from and whether it exists.
func (s *Store) GroupOffset(stream, group string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.groups[stream][group]
	return offset, ok
}

// Pending returns the entries a group has not been positioned past.
func (s *Store) Pending(stream, group string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.groups[stream][group]
	if !ok {
		return nil
	}
	entries := s.streams[stream]
	out := make([]Entry, len(entries)-offset)
	copy(out, entries[offset:])
	return out
}
