package client

import (
	"sort"
	"strconv"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/schema"
)

type cloner[P any] interface {
	schema.Record
	Clone() P
}

// collection is the local view of one entity: the visible records, the
// last-known-server snapshots, per-record state and held broadcasts.
// Deleted ids are remembered so a late update cannot bring a record back;
// server ids are never reused. Callers hold the store lock.
type collection[P cloner[P]] struct {
	entity   schema.Entity
	decode   func(broadcast.Message) (P, error)
	visible  map[string]P
	snapshot map[string]P
	states   map[string]State
	queued   map[string][]broadcast.Message
	deleted  map[string]struct{}
}

func newCollection[P cloner[P]](entity schema.Entity, decode func(broadcast.Message) (P, error)) *collection[P] {
	return &collection[P]{
		entity:   entity,
		decode:   decode,
		visible:  make(map[string]P),
		snapshot: make(map[string]P),
		states:   make(map[string]State),
		queued:   make(map[string][]broadcast.Message),
		deleted:  make(map[string]struct{}),
	}
}

func (c *collection[P]) state(id string) State {
	return c.states[id]
}

func (c *collection[P]) setState(id string, st State) {
	if st == Clean {
		delete(c.states, id)
		return
	}
	c.states[id] = st
}

func (c *collection[P]) has(id string) bool {
	_, ok := c.visible[id]
	return ok
}

func (c *collection[P]) get(id string) (P, bool) {
	rec, ok := c.visible[id]
	if !ok {
		return rec, false
	}
	return rec.Clone(), true
}

func (c *collection[P]) list() []P {
	out := make([]P, 0, len(c.visible))
	for _, rec := range c.visible {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return idLess(out[i].RecordID(), out[j].RecordID())
	})
	return out
}

// confirm records a server-confirmed value as both visible and snapshot.
func (c *collection[P]) confirm(rec P) {
	id := rec.RecordID()
	c.visible[id] = rec.Clone()
	c.snapshot[id] = rec.Clone()
	c.setState(id, Clean)
}

// settle confirms a persist response unless a newer server value already
// arrived, in which case that one wins.
func (c *collection[P]) settle(rec P) P {
	if snap, ok := c.snapshot[rec.RecordID()]; ok && snap.RecordVersion() > rec.RecordVersion() {
		rec = snap
	}
	c.confirm(rec)
	return rec.Clone()
}

// revert restores the visible record to its snapshot, or drops it when the
// server never confirmed one.
func (c *collection[P]) revert(id string) {
	if snap, ok := c.snapshot[id]; ok {
		c.visible[id] = snap.Clone()
	} else {
		delete(c.visible, id)
	}
	c.setState(id, Clean)
}

func (c *collection[P]) forget(id string) {
	delete(c.visible, id)
	delete(c.snapshot, id)
	delete(c.states, id)
	delete(c.queued, id)
}

// bury forgets a record the server deleted and tombstones its id.
func (c *collection[P]) bury(id string) {
	c.forget(id)
	c.deleted[id] = struct{}{}
}

func (c *collection[P]) isDeleted(id string) bool {
	_, ok := c.deleted[id]
	return ok
}

// rename moves a provisional record to its server id.
func (c *collection[P]) rename(from, to string) {
	if rec, ok := c.visible[from]; ok {
		delete(c.visible, from)
		c.visible[to] = rec
	}
	if st, ok := c.states[from]; ok {
		delete(c.states, from)
		c.states[to] = st
	}
	if q, ok := c.queued[from]; ok {
		delete(c.queued, from)
		c.queued[to] = append(c.queued[to], q...)
	}
}

// receive applies or holds an incoming broadcast for record id.
// It reports whether the visible collection changed.
func (c *collection[P]) receive(id string, msg broadcast.Message) (bool, error) {
	if c.state(id).holdsBroadcasts() {
		c.queued[id] = append(c.queued[id], msg)
		return false, nil
	}
	return c.apply(id, msg)
}

// apply merges a broadcast into a record that is not held. Updates at or
// below the snapshot version are stale and dropped, as is anything for a
// deleted id.
func (c *collection[P]) apply(id string, msg broadcast.Message) (bool, error) {
	if msg.Op == broadcast.OpDelete {
		_, existed := c.visible[id]
		c.bury(id)
		return existed, nil
	}
	if c.isDeleted(id) {
		return false, nil
	}
	rec, err := c.decode(msg)
	if err != nil {
		return false, err
	}
	if snap, ok := c.snapshot[id]; ok && rec.RecordVersion() <= snap.RecordVersion() {
		return false, nil
	}
	c.setState(id, Reconciling)
	c.confirm(rec)
	return true, nil
}

// flush applies the broadcasts held while id was busy.
func (c *collection[P]) flush(id string) int {
	held := c.queued[id]
	delete(c.queued, id)
	applied := 0
	for _, msg := range held {
		if c.state(id).holdsBroadcasts() {
			c.queued[id] = append(c.queued[id], msg)
			continue
		}
		if ok, err := c.apply(id, msg); err == nil && ok {
			applied++
		}
	}
	return applied
}

// idLess orders numeric ids numerically and everything else lexically.
func idLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
