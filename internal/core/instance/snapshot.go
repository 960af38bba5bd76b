package instance

import (
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
)

// Snapshot materializes the live instance table in creation order. Each entry
// reads its pose from the live node, so the result reflects every mutation up
// to this moment regardless of how it arrived.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &Snapshot{
		Version: SnapshotVersion,
		Entries: make([]SnapshotEntry, 0, len(m.order)),
	}
	for _, id := range m.order {
		t := m.records[id]
		if t == nil || t.state != StateLive {
			continue
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{ID: id, Record: m.recordFor(t)})
	}
	return snap
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Destroyed int
	Created   int
	Updated   int
	Skipped   int
}

// Reconcile drives the local instance table to match an incoming snapshot.
// The pass runs entirely under replay suppression, so nothing it does is
// re-broadcast.
//
// Order matters: instances absent from the snapshot are destroyed first,
// because a destroy both frees ids a later create may need and detaches
// surviving instances nested under the doomed subtree. Creation follows in
// table order, firing only the pre-spawn phase inline; parents and poses are
// then wired for every entry, and finally spawn hooks run for the newly
// created instances. A hook that spawns a nested instance adopts the
// table-built one from the queue instead of duplicating it.
func (m *Manager) Reconcile(snap *Snapshot) ReconcileReport {
	var report ReconcileReport
	if snap == nil {
		return report
	}

	m.interceptor.Replay(func() {
		incoming := make(map[identity.ID]SnapshotEntry, len(snap.Entries))
		for _, e := range snap.Entries {
			incoming[e.ID] = e
		}

		report.Destroyed = m.reconcileDestroys(incoming)

		createdSet := make(map[identity.ID]bool)
		for _, e := range snap.Entries {
			if _, ok := m.lookup(e.ID); ok {
				continue
			}
			m.runPreSpawnHooks(e.PrefabID, e.Name)
			// Parents wire up in the next phase, once every target exists.
			node, created, err := m.applySpawn(e.PrefabID, e.Name, e.ID, identity.Nil,
				e.Position, e.Rotation, e.Nested, false)
			if err != nil {
				report.Skipped++
				m.log.Error("snapshot entry skipped",
					log.String("id", e.ID.Short()),
					log.String("prefab", e.PrefabID),
					log.Error(err))
				continue
			}
			if !created {
				continue
			}
			node.SetLocalScale(e.Scale)
			if e.Nested {
				m.nested.Enqueue(node)
			}
			createdSet[e.ID] = true
		}

		for _, e := range snap.Entries {
			t, ok := m.lookup(e.ID)
			if !ok {
				continue
			}
			parentID := identity.Nil
			if e.ParentID != nil {
				parentID = *e.ParentID
			}
			m.applySetParent(e.ID, parentID)
			t.root.SetLocalPosition(e.Position)
			t.root.SetLocalRotation(e.Rotation)
			t.root.SetLocalScale(e.Scale)
			if createdSet[e.ID] {
				report.Created++
			} else {
				report.Updated++
			}
		}

		for _, e := range snap.Entries {
			if !createdSet[e.ID] {
				continue
			}
			if t, ok := m.lookup(e.ID); ok && !t.hooksRan {
				m.runSpawnHooks(t)
			}
		}

		m.drainNested()
	})

	m.log.Info("reconciliation finished",
		log.Int("destroyed", report.Destroyed),
		log.Int("created", report.Created),
		log.Int("updated", report.Updated),
		log.Int("skipped", report.Skipped))
	return report
}

// reconcileDestroys removes every tracked instance the snapshot does not
// mention. Survivors nested under a doomed subtree are detached to the scene
// root first; the following phases re-home and re-pose them.
func (m *Manager) reconcileDestroys(incoming map[identity.ID]SnapshotEntry) int {
	m.mu.RLock()
	order := make([]identity.ID, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	destroyed := 0
	for _, id := range order {
		if _, keep := incoming[id]; keep {
			continue
		}
		t, ok := m.lookup(id)
		if !ok {
			// Died with an earlier doomed subtree.
			continue
		}
		for _, sub := range m.trackedWithin(t.root) {
			if sub == t {
				continue
			}
			if _, keep := incoming[sub.id]; keep {
				sub.root.SetParent(nil)
			}
		}
		m.destroyLocal(t.root)
		destroyed++
	}
	return destroyed
}
