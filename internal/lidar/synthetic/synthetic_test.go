package synthetic

import (
	"math"
	"testing"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

func TestGroundOnlyRanges(t *testing.T) {
	params := lidar.VLP16Params()
	scene := Scene{SensorHeight: 1.8, MaxRange: 80}

	cloud := scene.Cloud(params, SensorPose{})
	if len(cloud) == 0 {
		t.Fatal("flat ground produced no returns")
	}

	for i, p := range cloud {
		// Every return lies on the ground plane.
		if math.Abs(p.Z+1.8) > 1e-9 {
			t.Fatalf("point %d at z = %v, want -1.8", i, p.Z)
		}
		if r := p.Range(); r > scene.MaxRange {
			t.Fatalf("point %d beyond max range: %v", i, r)
		}
	}
}

func TestWallOcclusion(t *testing.T) {
	params := lidar.VLP16Params()
	scene := Scene{
		SensorHeight: 1.8,
		Walls:        []Wall{{A: 1, B: 0, C: 10}},
		MaxRange:     80,
	}

	cloud := scene.Cloud(params, SensorPose{})

	// No forward-facing return may lie beyond the wall.
	for i, p := range cloud {
		if p.X > 10+1e-9 {
			t.Fatalf("point %d at x = %v behind the wall at 10", i, p.X)
		}
	}
}

func TestPoseTranslationShiftsRanges(t *testing.T) {
	params := lidar.VLP16Params()
	scene := Scene{
		SensorHeight: 1.8,
		Walls:        []Wall{{A: 1, B: 0, C: 10}},
		MaxRange:     80,
	}

	at := func(pose SensorPose) float64 {
		cloud := scene.Cloud(params, pose)
		best := math.Inf(1)
		for _, p := range cloud {
			// Nearest forward wall return; ground hits (z at -SensorHeight)
			// do not move with the pose and are excluded.
			if p.X > 0 && math.Abs(p.Y) < 0.5 && p.Z > -scene.SensorHeight+0.1 {
				if r := p.X; r < best {
					best = r
				}
			}
		}
		return best
	}

	d0 := at(SensorPose{})
	d1 := at(SensorPose{X: 2})
	if math.IsInf(d0, 1) || math.IsInf(d1, 1) {
		t.Fatal("wall not visible")
	}
	if math.Abs((d0-d1)-2) > 0.1 {
		t.Errorf("moving 2m toward the wall changed its distance by %v", d0-d1)
	}
}

func TestStreetSceneHasStructure(t *testing.T) {
	params := lidar.VLP16Params()
	cloud := StreetScene().Cloud(params, SensorPose{})

	if len(cloud) < 10000 {
		t.Fatalf("street scene too sparse: %d points", len(cloud))
	}

	var above, below int
	for _, p := range cloud {
		if p.Z > 0.5 {
			above++
		}
		if p.Z < -1.5 {
			below++
		}
	}
	if above == 0 {
		t.Error("no returns above the sensor (walls and pillars missing)")
	}
	if below == 0 {
		t.Error("no ground returns")
	}
}
