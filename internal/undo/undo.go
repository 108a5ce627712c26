// Package undo implements a bounded undo/redo history of reversible actions.
package undo

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNothingToUndo is returned by Undo on an empty history.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned by Redo when no undone action is pending.
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrStale marks an action whose target no longer exists. Undo and Redo
	// discard such actions and move on to the next one.
	ErrStale = errors.New("action target is gone")
)

// Action is a reversible operation. Do has already been applied when the
// action is pushed; Undo reverts it and Do re-applies it on redo.
type Action struct {
	Label string
	Do    func() error
	Undo  func() error
}

// Manager holds at most capacity actions. Pushing onto a full history drops
// the oldest action; pushing always clears the redo stack.
type Manager struct {
	mu       sync.Mutex
	capacity int
	done     []Action
	undone   []Action
}

// NewManager returns a manager keeping up to capacity actions.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 1
	}
	return &Manager{capacity: capacity}
}

// Push records an already-applied action.
func (m *Manager) Push(a Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.done) == m.capacity {
		m.done = append(m.done[:0], m.done[1:]...)
	}
	m.done = append(m.done, a)
	m.undone = nil
}

// Undo reverts the most recent action and returns its label. Stale actions
// are discarded and the next older one is tried. When the revert fails for
// any other reason the action stays on the undo stack.
func (m *Manager) Undo() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.done) > 0 {
		a := m.done[len(m.done)-1]
		err := a.Undo()
		if errors.Is(err, ErrStale) {
			m.done = m.done[:len(m.done)-1]
			continue
		}
		if err != nil {
			return a.Label, fmt.Errorf("undo %s: %w", a.Label, err)
		}
		m.done = m.done[:len(m.done)-1]
		m.undone = append(m.undone, a)
		return a.Label, nil
	}
	return "", ErrNothingToUndo
}

// Redo re-applies the most recently undone action, discarding stale ones.
func (m *Manager) Redo() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.undone) > 0 {
		a := m.undone[len(m.undone)-1]
		err := a.Do()
		if errors.Is(err, ErrStale) {
			m.undone = m.undone[:len(m.undone)-1]
			continue
		}
		if err != nil {
			return a.Label, fmt.Errorf("redo %s: %w", a.Label, err)
		}
		m.undone = m.undone[:len(m.undone)-1]
		m.done = append(m.done, a)
		return a.Label, nil
	}
	return "", ErrNothingToRedo
}

// CanUndo reports whether Undo has anything to revert.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.done) > 0
}

// CanRedo reports whether Redo has anything to re-apply.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undone) > 0
}

// Len returns the number of undoable actions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.done)
}
