package client

import (
	"cmp"
	"slices"
	"time"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/subject"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// Snapshot returns the snapshot built by the last tick. It is never nil
// and must not be modified.
func (c *Client) Snapshot() *types.Snapshot {
	return c.snapshot.Load()
}

// GetSubjectData returns the subject's frame from the last tick. Calls
// within one tick return the same frame.
func (c *Client) GetSubjectData(name string) (*types.SubjectFrame, bool) {
	return c.snapshot.Load().Subject(name)
}

// GetSubjectDataAtWorldTime resolves a real subject at t outside the
// tick. The read cursor is not moved and the frame is freshly allocated.
func (c *Client) GetSubjectDataAtWorldTime(name string, t time.Time) (*types.SubjectFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok || !s.HasFrames() {
		return nil, false
	}
	return s.SubjectFrame(s.EvaluateWorld(types.Seconds(t))), true
}

// GetSubjectDataAtSceneTime resolves a real subject at scene time t
// outside the tick.
func (c *Client) GetSubjectDataAtSceneTime(name string, t timecode.QualifiedFrameTime) (*types.SubjectFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok || !s.HasFrames() {
		return nil, false
	}
	return s.SubjectFrame(s.EvaluateScene(t)), true
}

// GetSubjectRawFrames copies the subject's buffered frames, oldest first.
func (c *Client) GetSubjectRawFrames(name string) ([]types.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok {
		return nil, false
	}
	return s.Frames(), true
}

// GetTimeSyncData reports the buffered time range and synchronization
// settings of a subject.
func (c *Client) GetTimeSyncData(name string) (types.TimeSyncData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok {
		return types.TimeSyncData{}, false
	}
	return s.TimeSyncData(), true
}

// SubjectStats returns buffer and sample rate statistics.
func (c *Client) SubjectStats(name string) (subject.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok {
		return subject.Stats{}, false
	}
	return s.Stats(), true
}

// SubjectSettings returns the settings a subject currently resolves with.
func (c *Client) SubjectSettings(name string) (types.SourceSettings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok {
		return types.SourceSettings{}, false
	}
	return s.Settings(), true
}

// Subjects lists real and virtual subjects sorted by name.
func (c *Client) Subjects() []SubjectKey {
	c.mu.Lock()
	keys := make([]SubjectKey, 0, len(c.subjects)+len(c.virtuals))
	for name, s := range c.subjects {
		keys = append(keys, SubjectKey{Source: s.LastModifier(), Name: name})
	}
	for name := range c.virtuals {
		keys = append(keys, SubjectKey{Source: VirtualSourceGUID, Name: name})
	}
	c.mu.Unlock()

	slices.SortFunc(keys, func(a, b SubjectKey) int { return cmp.Compare(a.Name, b.Name) })
	return keys
}

// SubjectNames lists subject names, sorted.
func (c *Client) SubjectNames() []string {
	keys := c.Subjects()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return names
}

// IsVirtualSubject reports whether key names a virtual subject.
func (c *Client) IsVirtualSubject(key SubjectKey) bool {
	if key.Source != VirtualSourceGUID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.virtuals[key.Name]
	return ok
}
