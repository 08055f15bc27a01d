// Package synthetic generates ray-cast point clouds of simple scenes
// (ground plane, walls, pillars) for pipeline tests and offline sanity
// runs. Clouds come out in the lidar frame in acquisition order, one column
// of beams at a time, matching a rotating scanner.
package synthetic

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// Wall is an infinite vertical plane a*x + b*y = c. Rays hit the wall when
// the denominator a*dx + b*dy is positive, so (a, b) should face the
// sensor.
type Wall struct {
	A, B, C float64
}

// Pillar is a vertical cylinder, the silhouette edges of which give the
// scene its corner features.
type Pillar struct {
	X, Y, Radius float64
}

// Scene describes static geometry around the sensor.
type Scene struct {
	// SensorHeight is the sensor's height above the ground plane (metres).
	SensorHeight float64
	Walls        []Wall
	Pillars      []Pillar
	// MaxRange drops returns beyond this distance (no-return cells).
	MaxRange float64
}

// StreetScene returns a scene with flat ground, two walls and a ring of
// pillars, enough structure for both surface and corner features.
func StreetScene() Scene {
	return Scene{
		SensorHeight: 1.8,
		Walls: []Wall{
			{A: 1, B: 0, C: 10},
			{A: 0, B: 1, C: 8},
		},
		Pillars: []Pillar{
			{X: 6, Y: -3, Radius: 0.3},
			{X: 4, Y: 5, Radius: 0.25},
			{X: -5, Y: 4, Radius: 0.3},
			{X: -7, Y: -6, Radius: 0.4},
			{X: 3, Y: -7, Radius: 0.3},
			{X: -4, Y: -2, Radius: 0.25},
			{X: 8, Y: 3, Radius: 0.35},
			{X: -2, Y: 7, Radius: 0.3},
		},
		MaxRange: 80,
	}
}

// SensorPose places the sensor in the world: a yaw about the vertical axis
// and a horizontal position.
type SensorPose struct {
	Yaw  float64 // radians
	X, Y float64 // metres
}

// Cloud ray-casts one full rotation from the given pose. Beams that hit
// nothing within MaxRange produce no return.
func (s Scene) Cloud(params lidar.ScanParams, pose SensorPose) lidar.PointCloud {
	cloud := make(lidar.PointCloud, 0, params.CloudSize())

	sinYaw := math.Sin(pose.Yaw)
	cosYaw := math.Cos(pose.Yaw)

	for col := 0; col < params.HorizontalScan; col++ {
		// Invert the projection's column mapping so the cloud lands on
		// exact range-image cells.
		ha := math.Pi/2 - float64(col-params.HorizontalScan/2)*params.AngResX

		for row := 0; row < params.NScan; row++ {
			va := (float64(row)+0.5)*params.AngResY - params.AngBottom

			// Beam direction in the sensor frame.
			dx := math.Cos(va) * math.Sin(ha)
			dy := math.Cos(va) * math.Cos(ha)
			dz := math.Sin(va)

			// Rotate into the world frame.
			wdx := cosYaw*dx - sinYaw*dy
			wdy := sinYaw*dx + cosYaw*dy

			t := s.castRay(pose.X, pose.Y, wdx, wdy, dz)
			if t <= 0 || t > s.MaxRange {
				continue
			}

			cloud = append(cloud, lidar.Point{
				X:         t * dx,
				Y:         t * dy,
				Z:         t * dz,
				Intensity: 100,
			})
		}
	}
	return cloud
}

// castRay returns the distance to the nearest hit, or -1 for a miss.
func (s Scene) castRay(ox, oy, dx, dy, dz float64) float64 {
	best := -1.0

	consider := func(t float64) {
		if t > 0.5 && (best < 0 || t < best) {
			best = t
		}
	}

	// Ground plane.
	if dz < 0 {
		consider(s.SensorHeight / -dz)
	}

	// Walls.
	for _, w := range s.Walls {
		denom := w.A*dx + w.B*dy
		if denom > 1e-9 {
			consider((w.C - w.A*ox - w.B*oy) / denom)
		}
	}

	// Pillars: 2D ray-circle intersection.
	for _, p := range s.Pillars {
		fx := ox - p.X
		fy := oy - p.Y
		a := dx*dx + dy*dy
		if a < 1e-12 {
			continue
		}
		b := 2 * (fx*dx + fy*dy)
		c := fx*fx + fy*fy - p.Radius*p.Radius
		disc := b*b - 4*a*c
		if disc < 0 {
			continue
		}
		t := (-b - math.Sqrt(disc)) / (2 * a)
		consider(t)
	}

	return best
}
