package scservo

import (
	"context"
	"fmt"
	"sort"
)

// SyncReadGroup accumulates a set of servo ids sharing a fixed (start
// address, data length), issues one broadcast sync-read for all of them,
// and exposes each id's decoded response bytes by offset (spec §4.6). It
// holds a borrowed reference to a Bus and must not outlive it (spec §5).
type SyncReadGroup struct {
	bus          *Bus
	startAddress byte
	dataLength   int

	ids     []byte // ascending, deduplicated
	present map[byte]bool
	buffers map[byte][]byte

	lastSuccess bool
}

// NewSyncReadGroup creates a group targeting a fixed start address and
// per-servo response length.
func NewSyncReadGroup(bus *Bus, startAddress byte, dataLength int) *SyncReadGroup {
	return &SyncReadGroup{
		bus:          bus,
		startAddress: startAddress,
		dataLength:   dataLength,
		present:      make(map[byte]bool),
		buffers:      make(map[byte][]byte),
	}
}

// Add registers id. Rejects a duplicate (spec §4.6).
func (g *SyncReadGroup) Add(id byte) error {
	if g.present[id] {
		return fmt.Errorf("scservo: servo %d already in sync-read group", id)
	}
	g.present[id] = true
	g.ids = append(g.ids, id)
	sort.Slice(g.ids, func(i, j int) bool { return g.ids[i] < g.ids[j] })
	return nil
}

// Remove drops id, if present. Always succeeds.
func (g *SyncReadGroup) Remove(id byte) {
	if !g.present[id] {
		return
	}
	delete(g.present, id)
	delete(g.buffers, id)
	for i, existing := range g.ids {
		if existing == id {
			g.ids = append(g.ids[:i], g.ids[i+1:]...)
			break
		}
	}
}

// Clear drops every member and buffered response.
func (g *SyncReadGroup) Clear() {
	g.ids = nil
	g.present = make(map[byte]bool)
	g.buffers = make(map[byte][]byte)
}

// Tx broadcasts the sync-read request for the group's current id set.
func (g *SyncReadGroup) Tx(ctx context.Context) (CommResult, error) {
	if len(g.ids) == 0 {
		return NotAvailable, nil
	}
	responses, result, err := g.bus.SyncReadTx(ctx, g.startAddress, byte(g.dataLength), g.ids)

	// Per the data model (spec §3): after a round, each id either holds
	// data-length bytes or remains empty — never a stale value from a
	// prior round. A partial or failed round (a timed-out id missing
	// from responses) must empty that id's buffer, not leave last
	// round's bytes sitting there looking like a fresh read.
	for _, id := range g.ids {
		if data, ok := responses[id]; ok {
			g.buffers[id] = data
		} else {
			delete(g.buffers, id)
		}
	}
	return result, err
}

// Rx performs no bus I/O and always returns Success; it receives nothing
// and leaves the buffered responses as they are. On this engine the
// broadcast request and the per-id receive loop both happen inside
// Bus.SyncReadTx, so Tx (and TxRx) already collect every member's
// response.
func (g *SyncReadGroup) Rx(ctx context.Context) (CommResult, error) {
	return Success, nil
}

// TxRx broadcasts the request and collects every response, setting
// lastSuccess on a full round (spec §4.6).
func (g *SyncReadGroup) TxRx(ctx context.Context) (CommResult, error) {
	result, err := g.Tx(ctx)
	g.lastSuccess = result == Success && len(g.buffers) == len(g.ids)
	return result, err
}

// LastSuccess reports whether the most recent TxRx round populated every
// member's buffer.
func (g *SyncReadGroup) LastSuccess() bool {
	return g.lastSuccess
}

// Get decodes a len-byte, little/big-endian-composed value at addr from
// id's buffered response. Returns 0 if id has no buffered bytes yet, or
// if (addr, len) falls outside this group's configured window — using an
// overflow-safe comparison (start ≤ addr && addr+len ≤ start+dataLength)
// rather than the unsigned-subtraction check the upstream source used,
// which misbehaves near boundaries (spec §9 design note).
func (g *SyncReadGroup) Get(id byte, addr byte, length int) uint32 {
	buf, ok := g.buffers[id]
	if !ok {
		return 0
	}
	start := int(g.startAddress)
	a := int(addr)
	if a < start || a+length > start+g.dataLength {
		return 0
	}
	offset := a - start
	if offset+length > len(buf) {
		return 0
	}

	switch length {
	case 1:
		return uint32(buf[offset])
	case 2:
		return uint32(g.bus.codec.DecodeWord(buf[offset : offset+2]))
	case 4:
		return g.bus.codec.DecodeDWord(buf[offset : offset+4])
	default:
		return 0
	}
}
