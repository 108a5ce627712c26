package undo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterAction returns an action that adds delta to *n.
func counterAction(n *int, delta int) Action {
	*n += delta
	return Action{
		Label: fmt.Sprintf("add %d", delta),
		Do:    func() error { *n += delta; return nil },
		Undo:  func() error { *n -= delta; return nil },
	}
}

func TestManager_UndoRedo(t *testing.T) {
	m := NewManager(10)
	n := 0

	m.Push(counterAction(&n, 1))
	m.Push(counterAction(&n, 10))
	require.Equal(t, 11, n)

	label, err := m.Undo()
	require.NoError(t, err)
	assert.Equal(t, "add 10", label)
	assert.Equal(t, 1, n)
	assert.True(t, m.CanRedo())

	label, err = m.Redo()
	require.NoError(t, err)
	assert.Equal(t, "add 10", label)
	assert.Equal(t, 11, n)
	assert.False(t, m.CanRedo())
}

func TestManager_EmptyStacks(t *testing.T) {
	m := NewManager(3)
	_, err := m.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	_, err = m.Redo()
	assert.ErrorIs(t, err, ErrNothingToRedo)
	assert.False(t, m.CanUndo())
}

func TestManager_BoundedDropsOldest(t *testing.T) {
	m := NewManager(2)
	n := 0
	m.Push(counterAction(&n, 1))
	m.Push(counterAction(&n, 2))
	m.Push(counterAction(&n, 4))
	require.Equal(t, 7, n)
	assert.Equal(t, 2, m.Len())

	_, err := m.Undo()
	require.NoError(t, err)
	_, err = m.Undo()
	require.NoError(t, err)
	_, err = m.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	assert.Equal(t, 1, n, "the oldest action fell off the history")
}

func TestManager_PushClearsRedo(t *testing.T) {
	m := NewManager(5)
	n := 0
	m.Push(counterAction(&n, 1))
	_, err := m.Undo()
	require.NoError(t, err)
	require.True(t, m.CanRedo())

	m.Push(counterAction(&n, 5))
	assert.False(t, m.CanRedo())
}

func TestManager_FailedUndoKeepsAction(t *testing.T) {
	m := NewManager(5)
	boom := errors.New("database is locked")
	m.Push(Action{
		Label: "approve comment",
		Do:    func() error { return nil },
		Undo:  func() error { return boom },
	})

	_, err := m.Undo()
	assert.ErrorIs(t, err, boom)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
}

func TestManager_StaleActionsAreDiscarded(t *testing.T) {
	m := NewManager(5)
	n := 0
	m.Push(counterAction(&n, 1))
	m.Push(Action{
		Label: "moderate deleted comment",
		Do:    func() error { return fmt.Errorf("comment c2: %w", ErrStale) },
		Undo:  func() error { return fmt.Errorf("comment c2: %w", ErrStale) },
	})

	label, err := m.Undo()
	require.NoError(t, err)
	assert.Equal(t, "add 1", label, "the stale action is skipped")
	assert.Equal(t, 0, n)
	assert.False(t, m.CanUndo())

	_, err = m.Redo()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m = NewManager(5)
	m.Push(Action{Label: "gone", Undo: func() error { return ErrStale }})
	_, err = m.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	assert.Equal(t, 0, m.Len())
}
