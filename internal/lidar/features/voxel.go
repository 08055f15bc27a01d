package features

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// VoxelDownsample reduces a cloud to one point per occupied leaf-sized cube,
// replacing each cube's points with their centroid. The centroid keeps the
// tagged intensity of the first point in the cube so the ring component of
// the tag survives downsampling.
func VoxelDownsample(cloud lidar.PointCloud, leaf float64) lidar.PointCloud {
	if len(cloud) == 0 || leaf <= 0 {
		return nil
	}

	type cell struct {
		sx, sy, sz float64
		intensity  float64
		n          int
	}

	cells := make(map[[3]int32]*cell, len(cloud))
	order := make([][3]int32, 0, len(cloud))

	for _, p := range cloud {
		key := [3]int32{
			int32(math.Floor(p.X / leaf)),
			int32(math.Floor(p.Y / leaf)),
			int32(math.Floor(p.Z / leaf)),
		}
		c, ok := cells[key]
		if !ok {
			c = &cell{intensity: p.Intensity}
			cells[key] = c
			order = append(order, key)
		}
		c.sx += p.X
		c.sy += p.Y
		c.sz += p.Z
		c.n++
	}

	out := make(lidar.PointCloud, 0, len(order))
	for _, key := range order {
		c := cells[key]
		inv := 1.0 / float64(c.n)
		out = append(out, lidar.Point{
			X:         c.sx * inv,
			Y:         c.sy * inv,
			Z:         c.sz * inv,
			Intensity: c.intensity,
		})
	}
	return out
}
