package space

import (
	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/replication"
)

// EntityChanged implements registry.Observer. Local changes are queued for
// replication; every property change, local or remote, raises a signal.
func (c *Connection) EntityChanged(e *models.Entity, change models.Change, remote bool) {
	if cur, ok := c.registry.Find(e.ID()); !ok || cur != e {
		// components are being torn down by a destroy
		return
	}

	c.scriptsFollow(e, change)
	if change.Kind == models.ChangeProperty {
		c.raise(e, change, remote)
	}
	if remote {
		return
	}

	id := e.ID()
	switch change.Kind {
	case models.ChangeTransform:
		if c.connected && e.Owner() != c.self {
			// moving someone else's entity takes it over; SetOwner re-enters
			// with ChangeOwner and queues the owner field
			e.SetOwner(c.self)
		}
		c.queue.MarkDirty(id, true)
	case models.ChangeName:
		c.queue.MarkName(id)
	case models.ChangeOwner:
		c.queue.MarkOwner(id)
	case models.ChangeLock:
		c.queue.MarkLock(id)
	case models.ChangeSelection:
		c.queue.MarkSelection(id)
	case models.ChangeParent:
		c.queue.MarkParent(id)
	case models.ChangeComponentAdded, models.ChangeProperty:
		c.queue.MarkDirty(id, false, change.Component.ID())
	case models.ChangeComponentRemoved:
		c.queue.MarkRemoved(id, change.Component.ID())
	}
}

// scriptsFollow keeps the script host in step with Script components.
func (c *Connection) scriptsFollow(e *models.Entity, change models.Change) {
	if !c.config.ScriptsEnabled || change.Component == nil || change.Component.Type() != models.ComponentTypeScript {
		return
	}
	comp := change.Component
	switch change.Kind {
	case models.ChangeComponentRemoved:
		c.scripts.Unload(e.ID(), comp.ID())
	case models.ChangeComponentAdded:
		c.reloadScript(e, comp)
	case models.ChangeProperty:
		if change.Key == models.ScriptSource {
			c.reloadScript(e, comp)
		}
	}
}

func (c *Connection) reloadScript(e *models.Entity, comp *models.Component) {
	view, err := models.AsScript(comp)
	if err != nil {
		return
	}
	source := view.Source()
	if source == "" {
		c.scripts.Unload(e.ID(), comp.ID())
		return
	}
	if err = c.scripts.Load(e.ID(), comp.ID(), source); err != nil {
		c.metrics.ScriptErrors.Inc()
		c.logger.Warn("Script failed to load",
			log.String("entity_id", e.ID().String()),
			log.Uint16("component_id", uint16(comp.ID())),
			log.Error(err),
		)
	}
}

// beforeDestroy runs while the entity is still registered. A local destroy
// supersedes pending changes; a remote one just forgets them.
func (c *Connection) beforeDestroy(e *models.Entity) {
	id := e.ID()
	if c.registry.ApplyingRemote() {
		c.queue.Discard(id)
	} else {
		c.queue.MarkDestroyed(id)
	}
	c.scripts.UnloadEntity(id)
	c.dropWatches(id)
}

// promoted follows an entity from its provisional id to its durable one.
func (c *Connection) promoted(from, to models.EntityID) {
	c.queue.Rekey(from, to)
	c.scripts.Rekey(from, to)
	c.rekeyWatches(from, to)
}

// send is the replication.Sender of the connection.
func (c *Connection) send(u *replication.PendingUpdate) error {
	if !c.transport.Connected() {
		return protocol.ErrNotConnected
	}
	if u.Destroy {
		if u.EntityID.Provisional() {
			return nil
		}
		return c.emit(protocol.NewEntityDestroy(u.EntityID), "destroy")
	}

	e, ok := c.registry.Find(u.EntityID)
	if !ok {
		return replication.ErrEntityGone
	}
	if u.Create {
		return c.sendCreate(e)
	}
	return c.emit(protocol.NewEntityUpdate(patchOf(e, u)), "update")
}

// sendCreate replicates the full entity under a durable id and promotes the
// local copy once the frame is out.
func (c *Connection) sendCreate(e *models.Entity) error {
	state := e.State()
	if state.Parent.Provisional() {
		// the parent's promotion re-parents this entity with a patch
		state.Parent = 0
	}
	if state.ID.Provisional() {
		for {
			c.nextSeq++
			state.ID = models.DurableID(c.self, c.nextSeq)
			if _, taken := c.registry.Find(state.ID); !taken {
				break
			}
		}
	}
	if err := c.emit(protocol.NewEntityCreate(state), "create"); err != nil {
		return err
	}
	if state.ID != e.ID() {
		return c.registry.Promote(e.ID(), state.ID)
	}
	return nil
}

func (c *Connection) emit(f *protocol.Frame, kind string) error {
	if err := c.transport.Send(f); err != nil {
		return err
	}
	c.metrics.UpdatesSent.WithLabelValues(kind).Inc()
	return nil
}

func patchOf(e *models.Entity, u *replication.PendingUpdate) models.EntityPatch {
	p := models.EntityPatch{ID: e.ID()}
	if u.Owner {
		owner := e.Owner()
		p.Owner = &owner
	}
	if u.Name {
		name := e.Name()
		p.Name = &name
	}
	if u.Transform {
		t := e.Transform()
		p.Transform = &t
	}
	if u.Lock {
		locked := e.IsLocked()
		p.Locked = &locked
	}
	if u.Selection {
		by := e.SelectedBy()
		p.SelectedBy = &by
	}
	if parent, _ := e.Parent(); u.Parent && !parent.Provisional() {
		p.Parent = &parent
	}
	for _, id := range u.DirtyComponents() {
		if comp, ok := e.Component(id); ok {
			p.Components = append(p.Components, comp.State())
		}
	}
	p.Removed = u.RemovedComponents()
	return p
}
