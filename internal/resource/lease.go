package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// Priority orders competing lease holders.
type Priority int

const (
	// PriorityDetector is used by background detectors.
	PriorityDetector Priority = iota + 1
	// PriorityRecorder is used by manual voice recordings.
	PriorityRecorder
	// PriorityAlarm is used by the active alarm session.
	PriorityAlarm
)

// ErrResourceBusy is returned when a resource is held by another owner
// that cannot be preempted.
var ErrResourceBusy = errors.New("resource busy")

// Lease is the exclusive right to use one resource.
type Lease struct {
	manager  *Manager
	resource sos.Resource
	owner    string
	priority Priority
	revoke   func()
	// active is guarded by manager.mu.
	active bool
}

// Resource returns the leased resource.
func (l *Lease) Resource() sos.Resource {
	return l.resource
}

// Owner returns the name the lease was acquired under.
func (l *Lease) Owner() string {
	return l.owner
}

// Release gives the resource back. Releasing twice, or releasing a lease
// that was revoked, does nothing.
func (l *Lease) Release() {
	if l == nil {
		return
	}

	m := l.manager

	m.mu.Lock()
	defer m.mu.Unlock()

	if !l.active {
		return
	}

	l.active = false

	if m.holders[l.resource] == l {
		delete(m.holders, l.resource)
	}
}

// Active reports whether the lease still owns its resource.
func (l *Lease) Active() bool {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	return l.active
}

// Manager hands out single-owner leases on the microphone and the camera.
type Manager struct {
	mu      sync.Mutex
	holders map[sos.Resource]*Lease
}

// NewManager creates a manager with every resource free.
func NewManager() *Manager {
	return &Manager{
		holders: make(map[sos.Resource]*Lease),
	}
}

// Acquire takes a free resource. revoke is called, outside any lock, if a
// higher priority owner later seizes the resource; it must stop every use of
// the hardware before returning.
func (m *Manager) Acquire(res sos.Resource, owner string, priority Priority, revoke func()) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.holders[res]; ok {
		return nil, fmt.Errorf("%s held by %s: %w", res, held.owner, ErrResourceBusy)
	}

	lease := m.newLease(res, owner, priority, revoke)
	m.holders[res] = lease

	return lease, nil
}

// Seize takes a resource, revoking a lower priority holder first.
// The previous holder's revoke callback has returned by the time Seize does.
func (m *Manager) Seize(res sos.Resource, owner string, priority Priority, revoke func()) (*Lease, error) {
	m.mu.Lock()

	previous, ok := m.holders[res]
	if ok && previous.priority >= priority {
		m.mu.Unlock()

		return nil, fmt.Errorf("%s held by %s: %w", res, previous.owner, ErrResourceBusy)
	}

	if ok {
		previous.active = false
	}

	lease := m.newLease(res, owner, priority, revoke)
	m.holders[res] = lease
	m.mu.Unlock()

	if ok && previous.revoke != nil {
		previous.revoke()
	}

	return lease, nil
}

// Holder returns the owner of a resource, if any.
func (m *Manager) Holder(res sos.Resource) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.holders[res]
	if !ok {
		return "", false
	}

	return held.owner, true
}

func (m *Manager) newLease(res sos.Resource, owner string, priority Priority, revoke func()) *Lease {
	return &Lease{
		manager:  m,
		resource: res,
		owner:    owner,
		priority: priority,
		revoke:   revoke,
		active:   true,
	}
}
