package client

import (
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/virtual"
)

// AddVirtualSubject registers an empty virtual subject.
func (c *Client) AddVirtualSubject(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subjects[name]; ok {
		return ErrSubjectExists
	}
	if _, ok := c.virtuals[name]; ok {
		return ErrSubjectExists
	}
	c.virtuals[name] = virtual.New(name, nil)
	slog.Info("client: virtual subject added", "subject", name)
	return nil
}

// UpdateVirtualSubject sets the ordered list of subjects a virtual subject
// is composed from.
func (c *Client) UpdateVirtualSubject(name string, subjects []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.virtuals[name]
	if !ok {
		return ErrSubjectNotFound
	}
	v.SetSubjects(subjects)
	slog.Info("client: virtual subject updated", "subject", name, "sources", subjects)
	return nil
}

// VirtualSubject returns the subjects a virtual subject is composed from.
func (c *Client) VirtualSubject(name string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.virtuals[name]
	if !ok {
		return nil, false
	}
	return v.Subjects(), true
}

// RemoveVirtualSubject deletes a virtual subject.
func (c *Client) RemoveVirtualSubject(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.virtuals[name]; !ok {
		return false
	}
	delete(c.virtuals, name)
	slog.Info("client: virtual subject removed", "subject", name)
	return true
}
