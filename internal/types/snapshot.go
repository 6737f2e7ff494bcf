package types

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is the set of resolved frames for one tick. It is built once and
// never modified after publication; readers share it without locking.
type Snapshot struct {
	Tick     uint64
	Time     time.Time
	Subjects map[string]*SubjectFrame
}

// Subject returns the resolved frame for name.
func (s *Snapshot) Subject(name string) (*SubjectFrame, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.Subjects[name]
	return f, ok
}

// Names returns the subject names in the snapshot, sorted.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.Subjects))
}
