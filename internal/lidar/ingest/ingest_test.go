package ingest

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// buildPacket assembles a synthetic data packet with the given azimuth per
// block and one populated channel per block.
func buildPacket(t *testing.T, azimuthsDeg []float64, distM float64) []byte {
	t.Helper()
	if len(azimuthsDeg) != BLOCKS_PER_PACKET {
		t.Fatalf("need %d azimuths, got %d", BLOCKS_PER_PACKET, len(azimuthsDeg))
	}

	pkt := make([]byte, PACKET_SIZE)
	for block := 0; block < BLOCKS_PER_PACKET; block++ {
		base := block * BLOCK_SIZE
		binary.LittleEndian.PutUint16(pkt[base:], BLOCK_FLAG)
		binary.LittleEndian.PutUint16(pkt[base+2:], uint16(azimuthsDeg[block]/AZIMUTH_RESOLUTION))

		// Channel 0 (laser 0, -15 degrees) on each block.
		off := base + 4
		binary.LittleEndian.PutUint16(pkt[off:], uint16(distM/DISTANCE_RESOLUTION))
		pkt[off+2] = 87
	}
	binary.LittleEndian.PutUint32(pkt[TIMESTAMP_OFFSET:], 123456)
	return pkt
}

func constantAzimuths(deg float64) []float64 {
	out := make([]float64, BLOCKS_PER_PACKET)
	for i := range out {
		out[i] = deg
	}
	return out
}

func TestParsePacketGeometry(t *testing.T) {
	p := NewParser()

	pkt, err := p.ParsePacket(buildPacket(t, constantAzimuths(0), 10))
	if err != nil {
		t.Fatal(err)
	}

	if len(pkt.Points) != BLOCKS_PER_PACKET {
		t.Fatalf("got %d points, want %d", len(pkt.Points), BLOCKS_PER_PACKET)
	}
	if pkt.TimestampMicros != 123456 {
		t.Errorf("timestamp = %d, want 123456", pkt.TimestampMicros)
	}

	// Azimuth 0, laser 0 at -15 degrees: straight ahead along +x, dipped down.
	pt := pkt.Points[0]
	wantX := 10 * math.Cos(15*lidar.DegToRad)
	wantZ := -10 * math.Sin(15*lidar.DegToRad)
	if math.Abs(pt.X-wantX) > 1e-9 || math.Abs(pt.Y) > 1e-9 || math.Abs(pt.Z-wantZ) > 1e-9 {
		t.Errorf("point = (%v,%v,%v), want (%v,0,%v)", pt.X, pt.Y, pt.Z, wantX, wantZ)
	}
	if pt.Intensity != 87 {
		t.Errorf("intensity = %v, want 87", pt.Intensity)
	}
}

func TestParsePacketRejectsBadSize(t *testing.T) {
	p := NewParser()
	if _, err := p.ParsePacket(make([]byte, 100)); err == nil {
		t.Error("short packet accepted")
	}
}

func TestParsePacketRejectsBadFlag(t *testing.T) {
	p := NewParser()
	pkt := buildPacket(t, constantAzimuths(0), 10)
	pkt[0] = 0
	if _, err := p.ParsePacket(pkt); err == nil {
		t.Error("bad block flag accepted")
	}
}

func TestParsePacketSkipsZeroDistance(t *testing.T) {
	p := NewParser()
	raw := buildPacket(t, constantAzimuths(0), 10)
	// Zero out the distance of block 0's channel.
	binary.LittleEndian.PutUint16(raw[4:], 0)

	pkt, err := p.ParsePacket(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt.Points) != BLOCKS_PER_PACKET-1 {
		t.Errorf("got %d points, want %d", len(pkt.Points), BLOCKS_PER_PACKET-1)
	}
}

func TestAssemblerDetectsRotationWrap(t *testing.T) {
	var scans []lidar.PointCloud
	var times []time.Time
	a := NewScanAssembler(func(cloud lidar.PointCloud, scanTime time.Time) {
		scans = append(scans, cloud)
		times = append(times, scanTime)
	})

	parser := NewParser()
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Two full rotations, 10 degrees per packet.
	for rot := 0; rot < 2; rot++ {
		for az := 0.0; az < 360; az += 10 {
			raw := buildPacket(t, constantAzimuths(az), 10)
			pkt, err := parser.ParsePacket(raw)
			if err != nil {
				t.Fatal(err)
			}
			// Inflate the packet to clear the fragment floor.
			for len(pkt.Points) < MinScanPoints/36+1 {
				pkt.Points = append(pkt.Points, pkt.Points[0])
			}
			a.AddPacket(pkt, t0.Add(time.Duration(rot*360+int(az))*time.Millisecond))
		}
	}
	a.Flush()

	if len(scans) != 2 {
		t.Fatalf("got %d scans, want 2", len(scans))
	}
	if a.ScanCount() != 2 {
		t.Errorf("ScanCount = %d, want 2", a.ScanCount())
	}
	if !times[0].Equal(t0) {
		t.Errorf("first scan time = %v, want %v", times[0], t0)
	}
	if len(scans[0]) == 0 || len(scans[1]) == 0 {
		t.Error("empty assembled scans")
	}
}

func TestAssemblerDropsFragments(t *testing.T) {
	var scans int
	a := NewScanAssembler(func(lidar.PointCloud, time.Time) { scans++ })

	parser := NewParser()
	raw := buildPacket(t, constantAzimuths(350), 10)
	pkt, _ := parser.ParsePacket(raw)
	a.AddPacket(pkt, time.Now())

	// Wrap with far too few points: the fragment must be dropped.
	raw = buildPacket(t, constantAzimuths(5), 10)
	pkt, _ = parser.ParsePacket(raw)
	a.AddPacket(pkt, time.Now())

	if scans != 0 {
		t.Errorf("fragment rotation delivered %d scans", scans)
	}
}

func TestPacketStatsGetAndReset(t *testing.T) {
	ps := NewPacketStats()
	ps.AddPacket(1206)
	ps.AddPacket(1206)
	ps.AddDropped()
	ps.AddPoints(300)

	packets, bytes, dropped, points, _ := ps.GetAndReset()
	if packets != 2 || bytes != 2412 || dropped != 1 || points != 300 {
		t.Errorf("counters = %d/%d/%d/%d", packets, bytes, dropped, points)
	}

	packets, bytes, dropped, points = ps.Snapshot()
	if packets != 0 || bytes != 0 || dropped != 0 || points != 0 {
		t.Error("GetAndReset did not zero the counters")
	}
}
