package scservo

import (
	"context"
	"fmt"
	"sort"
)

// SyncWriteGroup accumulates a {servo-id → payload} association for a
// fixed (start address, data length) and emits it as a single broadcast
// sync-write frame (spec §4.5). It holds a borrowed reference to a Bus;
// it does not own any serial resource and must not outlive it (spec §5).
type SyncWriteGroup struct {
	bus          *Bus
	startAddress byte
	dataLength   int

	members map[byte][]byte
	dirty   bool
	block   []byte
}

// NewSyncWriteGroup creates a group targeting a fixed start address and
// per-servo payload length.
func NewSyncWriteGroup(bus *Bus, startAddress byte, dataLength int) *SyncWriteGroup {
	return &SyncWriteGroup{
		bus:          bus,
		startAddress: startAddress,
		dataLength:   dataLength,
		members:      make(map[byte][]byte),
	}
}

// Add registers id with payload. Rejects a duplicate id or an oversize
// payload (spec §4.5).
func (g *SyncWriteGroup) Add(id byte, payload []byte) error {
	if _, exists := g.members[id]; exists {
		return fmt.Errorf("scservo: servo %d already in sync-write group", id)
	}
	if len(payload) > g.dataLength {
		return fmt.Errorf("scservo: payload length %d exceeds group data length %d", len(payload), g.dataLength)
	}
	g.members[id] = append([]byte(nil), payload...)
	g.dirty = true
	return nil
}

// Change replaces id's payload. Requires id to already be present (spec
// §4.5).
func (g *SyncWriteGroup) Change(id byte, payload []byte) error {
	if _, exists := g.members[id]; !exists {
		return fmt.Errorf("scservo: servo %d not in sync-write group", id)
	}
	if len(payload) > g.dataLength {
		return fmt.Errorf("scservo: payload length %d exceeds group data length %d", len(payload), g.dataLength)
	}
	g.members[id] = append([]byte(nil), payload...)
	g.dirty = true
	return nil
}

// Remove drops id from the group, if present. Always succeeds (spec
// §4.5).
func (g *SyncWriteGroup) Remove(id byte) {
	if _, exists := g.members[id]; exists {
		delete(g.members, id)
		g.dirty = true
	}
}

// Clear drops every member. Always succeeds.
func (g *SyncWriteGroup) Clear() {
	if len(g.members) > 0 {
		g.members = make(map[byte][]byte)
		g.dirty = true
	}
}

// rebuild linearises the parameter block in ascending id order, so wire
// output is reproducible regardless of insertion order (spec §4.5, §5).
func (g *SyncWriteGroup) rebuild() {
	ids := make([]byte, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	block := make([]byte, 0, len(ids)*(1+g.dataLength))
	for _, id := range ids {
		block = append(block, id)
		block = append(block, g.members[id]...)
	}
	g.block = block
	g.dirty = false
}

// Tx emits the broadcast sync-write frame. Returns NotAvailable with no
// bytes on the wire if the group has no members (spec §4.5).
func (g *SyncWriteGroup) Tx(ctx context.Context) (CommResult, error) {
	if len(g.members) == 0 {
		return NotAvailable, nil
	}
	if g.dirty || g.block == nil {
		g.rebuild()
	}
	return g.bus.SyncWriteTx(ctx, g.startAddress, byte(g.dataLength), g.block)
}
