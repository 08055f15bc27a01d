// Package imu maintains the inertial measurement ring buffer and performs
// per-scan motion compensation (deskew) of segmented clouds.
//
// The buffer is the only state shared between threads in the pipeline: the
// ingestion callback appends and integrates under the buffer mutex, and the
// association worker holds the same mutex for the whole of each scan's
// feature-extraction and solve sequence.
package imu

import (
	"math"
	"sync"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

const gravity = 9.81

// Measurement is one raw IMU message: orientation, body-frame linear
// acceleration with gravity included, body-frame angular velocity, and a
// timestamp in seconds.
type Measurement struct {
	Time        float64
	Orientation lidar.Quaternion
	LinearAcc   lidar.Vec3
	AngularVelo lidar.Vec3
}

// Buffer is a fixed-capacity ring of processed IMU samples. Velocity, shift
// and angular rotation are cumulatively integrated as samples arrive.
// PointerLast always indexes the most recently written sample; the buffer
// wraps modulo its capacity.
type Buffer struct {
	mu sync.Mutex

	queLength  int
	scanPeriod float64

	pointerLast int

	time            []float64
	roll            []float64
	pitch           []float64
	yaw             []float64
	acc             []lidar.Vec3 // world frame, gravity removed
	velo            []lidar.Vec3 // world frame, integrated
	shift           []lidar.Vec3 // world frame, integrated
	angularVelo     []lidar.Vec3 // body frame, as measured
	angularRotation []lidar.Vec3 // integrated from angular velocity
}

// NewBuffer creates a ring buffer of queLength samples. scanPeriod bounds
// the integration step: a gap of scanPeriod or more between samples restarts
// integration cleanly.
func NewBuffer(queLength int, scanPeriod float64) *Buffer {
	return &Buffer{
		queLength:       queLength,
		scanPeriod:      scanPeriod,
		pointerLast:     -1,
		time:            make([]float64, queLength),
		roll:            make([]float64, queLength),
		pitch:           make([]float64, queLength),
		yaw:             make([]float64, queLength),
		acc:             make([]lidar.Vec3, queLength),
		velo:            make([]lidar.Vec3, queLength),
		shift:           make([]lidar.Vec3, queLength),
		angularVelo:     make([]lidar.Vec3, queLength),
		angularRotation: make([]lidar.Vec3, queLength),
	}
}

// Lock acquires the buffer mutex. The association worker wraps each scan's
// deskew + solve sequence in Lock/Unlock so the sample window it reads is
// exactly the set delivered before the scan entered the locked section.
func (b *Buffer) Lock() { b.mu.Lock() }

// Unlock releases the buffer mutex.
func (b *Buffer) Unlock() { b.mu.Unlock() }

// Add converts a raw measurement and appends it to the ring, then advances
// the cumulative integration by one step. Acceleration is rotated out of the
// body frame with the axis remap that aligns the IMU with the LiDAR frame,
// and gravity is removed component-wise.
func (b *Buffer) Add(m Measurement) {
	b.mu.Lock()
	defer b.mu.Unlock()

	roll, pitch, yaw := lidar.QuaternionToRPY(m.Orientation)

	accX := m.LinearAcc.Y - math.Sin(roll)*math.Cos(pitch)*gravity
	accY := m.LinearAcc.Z - math.Cos(roll)*math.Cos(pitch)*gravity
	accZ := m.LinearAcc.X + math.Sin(pitch)*gravity

	b.pointerLast = (b.pointerLast + 1) % b.queLength

	b.time[b.pointerLast] = m.Time
	b.roll[b.pointerLast] = roll
	b.pitch[b.pointerLast] = pitch
	b.yaw[b.pointerLast] = yaw
	b.acc[b.pointerLast] = lidar.Vec3{X: accX, Y: accY, Z: accZ}
	b.angularVelo[b.pointerLast] = m.AngularVelo

	b.accumulateShiftAndRotation()
}

// accumulateShiftAndRotation integrates the newest sample from its
// predecessor. Called with the mutex held. Steps spanning a buffer gap
// (dt >= scanPeriod) are skipped so integration restarts cleanly.
func (b *Buffer) accumulateShiftAndRotation() {
	last := b.pointerLast
	roll := b.roll[last]
	pitch := b.pitch[last]
	yaw := b.yaw[last]
	acc := b.acc[last]

	// Rotate acceleration to the world frame with the roll-pitch-yaw
	// sequence of the camera-like axis convention.
	x1 := math.Cos(roll)*acc.X - math.Sin(roll)*acc.Y
	y1 := math.Sin(roll)*acc.X + math.Cos(roll)*acc.Y
	z1 := acc.Z

	x2 := x1
	y2 := math.Cos(pitch)*y1 - math.Sin(pitch)*z1
	z2 := math.Sin(pitch)*y1 + math.Cos(pitch)*z1

	acc.X = math.Cos(yaw)*x2 + math.Sin(yaw)*z2
	acc.Y = y2
	acc.Z = -math.Sin(yaw)*x2 + math.Cos(yaw)*z2

	back := (last + b.queLength - 1) % b.queLength
	dt := b.time[last] - b.time[back]
	if dt < b.scanPeriod {
		b.shift[last] = b.shift[back].
			Add(b.velo[back].Scale(dt)).
			Add(acc.Scale(dt * dt / 2))
		b.velo[last] = b.velo[back].Add(acc.Scale(dt))
		b.angularRotation[last] = b.angularRotation[back].
			Add(b.angularVelo[back].Scale(dt))
	}
}

// PointerLast returns the index of the most recently written sample, or -1
// when no sample has arrived yet. Callers must hold the buffer lock.
func (b *Buffer) PointerLast() int { return b.pointerLast }
