// Package lidar provides the shared data model for the odometry pipeline:
// Cartesian points, reusable point clouds, scan geometry parameters, and the
// coordinate-frame helpers used by every processing layer.
package lidar

import "math"

// Point is a single LiDAR return in Cartesian coordinates. Intensity is
// overloaded after projection: the range-image stage stores a positional tag
// (row + col/10000) and the deskew stage replaces it with a temporal tag
// (row + relTime*scanPeriod). The downstream mapping stage decodes the tag,
// so it must survive every hand-off unchanged.
type Point struct {
	X, Y, Z   float64
	Intensity float64
}

// RowIndex decodes the ring (row) component of a tagged intensity.
func (p Point) RowIndex() int {
	return int(p.Intensity)
}

// ColIndex decodes the column component of a positional tag (row + col/10000).
func (p Point) ColIndex() int {
	return int(math.Round((p.Intensity - float64(int(p.Intensity))) * 10000.0))
}

// RelTime decodes the fractional-time component of a temporal tag
// (row + relTime*scanPeriod), scaled back to [0,1) by the caller's scan period.
func (p Point) RelTime(scanPeriod float64) float64 {
	if scanPeriod == 0 {
		return 0
	}
	return (p.Intensity - float64(int(p.Intensity))) / scanPeriod
}

// Range returns the Euclidean distance of the point from the sensor origin.
func (p Point) Range() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// ToCameraFrame remaps a lidar-frame point into the camera-like frame used by
// the association stage: (x,y,z)_camera = (y,z,x)_lidar.
func (p Point) ToCameraFrame() Point {
	return Point{X: p.Y, Y: p.Z, Z: p.X, Intensity: p.Intensity}
}

// PointCloud is a flat slice of points. Working clouds are reused across
// scans: Reset keeps the backing array and truncates the length.
type PointCloud []Point

// Reset truncates the cloud to zero length, keeping capacity for reuse.
func (c *PointCloud) Reset() {
	*c = (*c)[:0]
}

// Append adds a point to the cloud.
func (c *PointCloud) Append(p Point) {
	*c = append(*c, p)
}

// Clone returns a fresh copy of the cloud. Hand-offs between pipeline stages
// always carry owned copies so no slice aliases cross a channel boundary.
func (c PointCloud) Clone() PointCloud {
	if len(c) == 0 {
		return nil
	}
	out := make(PointCloud, len(c))
	copy(out, c)
	return out
}

// Vec3 is a small 3-vector used by the IMU integration and deskew math.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// IsZero reports whether all three components are exactly zero.
func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }
