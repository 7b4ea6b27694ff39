package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/replicated"
)

func TestEntityLockAddComponent(t *testing.T) {
	e, l := newTestEntity()
	require.NoError(t, e.Lock())
	assert.True(t, e.IsLocked())
	assert.ErrorIs(t, e.Lock(), ErrEntityLocked)

	_, err := e.AddComponent(ComponentTypeStaticModel)
	assert.ErrorIs(t, err, ErrEntityLocked)
	assert.Zero(t, e.ComponentCount())

	require.NoError(t, e.Unlock())
	assert.ErrorIs(t, e.Unlock(), ErrEntityNotLocked)
	_, err = e.AddComponent(ComponentTypeStaticModel)
	require.NoError(t, err)
	assert.Equal(t, []ChangeKind{ChangeLock, ChangeLock, ChangeComponentAdded}, l.kinds())
}

func TestEntityLockRemoveComponent(t *testing.T) {
	e, _ := newTestEntity()
	c, err := e.AddComponent(ComponentTypeAudio)
	require.NoError(t, err)
	require.NoError(t, e.Lock())

	assert.ErrorIs(t, e.RemoveComponent(c.ID()), ErrEntityLocked)
	assert.Equal(t, 1, e.ComponentCount())

	require.NoError(t, c.SetProperty(AudioVolume, replicated.Float64(0.5)))

	require.NoError(t, e.Unlock())
	require.NoError(t, e.RemoveComponent(c.ID()))
	assert.Zero(t, e.ComponentCount())
}

func TestRemoteStateBypassesLock(t *testing.T) {
	e, _ := newTestEntity()
	c, err := e.AddComponent(ComponentTypeAudio)
	require.NoError(t, err)
	require.NoError(t, e.Lock())

	e.ApplyPatch(EntityPatch{ID: e.ID(), Removed: []ComponentID{c.ID()}})
	assert.Zero(t, e.ComponentCount())

	e.DetachComponents()
	unlocked := false
	e.ApplyPatch(EntityPatch{ID: e.ID(), Locked: &unlocked})
	assert.False(t, e.IsLocked())
}

func TestEntitySelection(t *testing.T) {
	e, l := newTestEntity()
	assert.False(t, e.IsSelected())
	assert.ErrorIs(t, e.Select(0), ErrInvalidClientID)

	require.NoError(t, e.Select(3))
	assert.True(t, e.IsSelected())
	assert.Equal(t, ClientID(3), e.SelectedBy())

	assert.ErrorIs(t, e.Select(3), ErrEntitySelected)
	assert.ErrorIs(t, e.Select(4), ErrEntitySelected)
	assert.ErrorIs(t, e.Deselect(4), ErrNotSelector)

	require.NoError(t, e.Deselect(3))
	assert.False(t, e.IsSelected())
	assert.ErrorIs(t, e.Deselect(3), ErrNotSelector)
	assert.Equal(t, []ChangeKind{ChangeSelection, ChangeSelection}, l.kinds())
}

func TestSetParent(t *testing.T) {
	e, l := newTestEntity()
	_, ok := e.Parent()
	assert.False(t, ok)

	assert.ErrorIs(t, e.SetParent(e.ID()), ErrInvalidParent)
	require.NoError(t, e.SetParent(DurableID(1, 9)))
	require.NoError(t, e.SetParent(DurableID(1, 9)))
	p, ok := e.Parent()
	require.True(t, ok)
	assert.Equal(t, DurableID(1, 9), p)

	require.NoError(t, e.SetParent(0))
	assert.False(t, e.HasParent())
	assert.Equal(t, []ChangeKind{ChangeParent, ChangeParent}, l.kinds())
}

func TestStateCarriesHierarchyLockAndSelection(t *testing.T) {
	e, _ := newTestEntity()
	require.NoError(t, e.Lock())
	require.NoError(t, e.Select(2))
	require.NoError(t, e.SetParent(DurableID(1, 4)))

	s := e.State()
	assert.True(t, s.Locked)
	assert.Equal(t, ClientID(2), s.SelectedBy)
	assert.Equal(t, DurableID(1, 4), s.Parent)

	mirror := NewEntity(s.ID, s.Type, s.Name, s.Owner, s.Transform)
	mirror.ApplyState(s, true)
	assert.True(t, mirror.IsLocked())
	assert.Equal(t, ClientID(2), mirror.SelectedBy())
	p, _ := mirror.Parent()
	assert.Equal(t, DurableID(1, 4), p)

	none := EntityID(0)
	var nobody ClientID
	s.Apply(EntityPatch{ID: s.ID, Parent: &none, SelectedBy: &nobody})
	assert.Zero(t, s.Parent)
	assert.Zero(t, s.SelectedBy)
	assert.True(t, s.Locked)
}
