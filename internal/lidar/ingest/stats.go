package ingest

import (
	"sync"
	"time"
)

// PacketStats tracks ingestion throughput for interval logging and the
// monitor's stats endpoint.
type PacketStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	pointCount   int64
	lastReset    time.Time
}

// NewPacketStats creates a stats tracker starting now.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket records one received packet of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped records one dropped or unparseable packet.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddPoints records the number of points extracted from a packet.
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// GetAndReset returns the counters accumulated since the last reset and
// zeroes them.
func (ps *PacketStats) GetAndReset() (packets, bytes, dropped, points int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	dropped = ps.droppedCount
	points = ps.pointCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.pointCount = 0
	ps.lastReset = now

	return
}

// Snapshot returns the current counters without resetting them.
func (ps *PacketStats) Snapshot() (packets, bytes, dropped, points int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.packetCount, ps.byteCount, ps.droppedCount, ps.pointCount
}
