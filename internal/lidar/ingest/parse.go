// Package ingest turns raw sensor UDP packets into scan point clouds for
// the odometry pipeline. It carries the live UDP listener, an offline pcap
// replay path, the packet parser, and the revolution assembler that detects
// azimuth wrap and emits one cloud per rotation.
package ingest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// 16-beam sensor packet structure constants. These define the fixed format
// of the 1206-byte data packets: 12 blocks of 100 bytes followed by a
// 4-byte microsecond timestamp and a 2-byte factory field.
const (
	PACKET_SIZE       = 1206   // Standard data packet size in bytes
	BLOCKS_PER_PACKET = 12     // Data blocks per packet
	BLOCK_SIZE        = 100    // 2-byte flag + 2-byte azimuth + 32 channels x 3 bytes
	CHANNELS_PER_BLOCK_PAIR = 32 // Two 16-laser firing sequences per block
	BLOCK_FLAG        = 0xEEFF // Start-of-block marker (little-endian 0xFFEE)
	TIMESTAMP_OFFSET  = 1200   // Microseconds since top of hour, little-endian

	// Physical measurement conversion constants
	DISTANCE_RESOLUTION = 0.002 // Distance unit: 2mm per LSB
	AZIMUTH_RESOLUTION  = 0.01  // Azimuth unit: 0.01 degrees per LSB
	ROTATION_MAX_UNITS  = 36000 // Azimuth value representing 360.00 degrees
)

// verticalAngles holds the fixed elevation of each of the 16 lasers in
// firing order, interleaved low/high (degrees).
var verticalAngles = [16]float64{
	-15, 1, -13, 3, -11, 5, -9, 7, -7, 9, -5, 11, -3, 13, -1, 15,
}

// ParsedPacket is the decoded content of one data packet.
type ParsedPacket struct {
	Points []lidar.Point
	// Azimuth of the last block (degrees), used for rotation detection.
	LastAzimuth float64
	// Microseconds since the top of the hour, from the packet tail.
	TimestampMicros uint32
}

// Parser decodes sensor data packets into Cartesian points in the lidar
// frame (x forward, y left, z up by the sensor's own convention).
type Parser struct {
	// Precomputed per-laser elevation trigonometry.
	cosVert [16]float64
	sinVert [16]float64
}

// NewParser creates a parser with the embedded beam calibration.
func NewParser() *Parser {
	p := &Parser{}
	for i, deg := range verticalAngles {
		rad := deg * lidar.DegToRad
		p.cosVert[i] = math.Cos(rad)
		p.sinVert[i] = math.Sin(rad)
	}
	return p
}

// ParsePacket decodes a 1206-byte data packet. Zero-distance channels are
// skipped; returns with a range below 0.1 m are left to the projection
// stage's own gate.
func (p *Parser) ParsePacket(packet []byte) (ParsedPacket, error) {
	if len(packet) != PACKET_SIZE {
		return ParsedPacket{}, fmt.Errorf("unexpected packet size %d (want %d)", len(packet), PACKET_SIZE)
	}

	out := ParsedPacket{
		Points:          make([]lidar.Point, 0, BLOCKS_PER_PACKET*CHANNELS_PER_BLOCK_PAIR),
		TimestampMicros: binary.LittleEndian.Uint32(packet[TIMESTAMP_OFFSET:]),
	}

	for block := 0; block < BLOCKS_PER_PACKET; block++ {
		base := block * BLOCK_SIZE

		flag := binary.LittleEndian.Uint16(packet[base:])
		if flag != BLOCK_FLAG {
			return ParsedPacket{}, fmt.Errorf("block %d: bad flag %#04x", block, flag)
		}

		azRaw := binary.LittleEndian.Uint16(packet[base+2:])
		if azRaw >= ROTATION_MAX_UNITS {
			azRaw -= ROTATION_MAX_UNITS
		}
		azimuth := float64(azRaw) * AZIMUTH_RESOLUTION
		azRad := azimuth * lidar.DegToRad
		sinAz := math.Sin(azRad)
		cosAz := math.Cos(azRad)

		for ch := 0; ch < CHANNELS_PER_BLOCK_PAIR; ch++ {
			off := base + 4 + ch*3
			distRaw := binary.LittleEndian.Uint16(packet[off:])
			if distRaw == 0 {
				continue
			}
			reflectivity := packet[off+2]

			laser := ch % 16
			dist := float64(distRaw) * DISTANCE_RESOLUTION

			out.Points = append(out.Points, lidar.Point{
				X:         dist * p.cosVert[laser] * cosAz,
				Y:         -dist * p.cosVert[laser] * sinAz,
				Z:         dist * p.sinVert[laser],
				Intensity: float64(reflectivity),
			})
		}

		out.LastAzimuth = azimuth
	}

	return out, nil
}
