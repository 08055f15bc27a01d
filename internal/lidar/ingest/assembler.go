package ingest

import (
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// MinScanPoints is the floor below which a completed rotation is discarded
// as a fragment (sensor startup, replay truncation).
const MinScanPoints = 1000

// ScanAssembler accumulates parsed points and detects the azimuth wrap that
// marks a complete rotation. On each completed rotation the callback
// receives an owned cloud and the wall-clock time of the rotation's first
// packet.
type ScanAssembler struct {
	onScan func(cloud lidar.PointCloud, scanTime time.Time)

	current     lidar.PointCloud
	lastAzimuth float64
	scanStart   time.Time
	scanCount   int64
	dropped     int64
}

// NewScanAssembler creates an assembler delivering completed rotations to
// onScan.
func NewScanAssembler(onScan func(cloud lidar.PointCloud, scanTime time.Time)) *ScanAssembler {
	return &ScanAssembler{
		onScan:      onScan,
		lastAzimuth: -1,
	}
}

// AddPacket folds one parsed packet into the current rotation. A wrap from
// high azimuth back toward zero completes the rotation.
func (a *ScanAssembler) AddPacket(pkt ParsedPacket, arrival time.Time) {
	if a.scanStart.IsZero() {
		a.scanStart = arrival
	}

	if a.lastAzimuth >= 0 && pkt.LastAzimuth < a.lastAzimuth-180 {
		a.completeScan()
		a.scanStart = arrival
	}
	a.lastAzimuth = pkt.LastAzimuth

	a.current = append(a.current, pkt.Points...)
}

// Flush completes any partially assembled rotation, used at end of replay.
func (a *ScanAssembler) Flush() {
	if len(a.current) > 0 {
		a.completeScan()
	}
}

// ScanCount returns the number of completed rotations delivered so far.
func (a *ScanAssembler) ScanCount() int64 { return a.scanCount }

func (a *ScanAssembler) completeScan() {
	if len(a.current) < MinScanPoints {
		a.dropped++
		if a.dropped == 1 || a.dropped%100 == 0 {
			monitoring.Logf("ingest: dropped %d fragment rotations (last had %d points)", a.dropped, len(a.current))
		}
		a.current = a.current[:0]
		return
	}

	cloud := make(lidar.PointCloud, len(a.current))
	copy(cloud, a.current)
	a.current = a.current[:0]

	a.scanCount++
	if a.onScan != nil {
		a.onScan(cloud, a.scanStart)
	}
}
