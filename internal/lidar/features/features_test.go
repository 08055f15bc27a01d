package features

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/rangeimage"
	"github.com/banshee-data/odometry.report/internal/lidar/synthetic"
)

func projectScene(t *testing.T, params lidar.ScanParams, pose synthetic.SensorPose) rangeimage.ProjectionOut {
	t.Helper()
	p := rangeimage.NewProjector(params)
	scene := synthetic.StreetScene()
	out := p.Process(scene.Cloud(params, pose), time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	if len(out.SegmentedCloud) == 0 {
		t.Fatal("street scene produced no segmented points")
	}
	return out
}

// cameraRemap mirrors the deskew stage's frame change for tests that drive
// the extractor without IMU data.
func cameraRemap(cloud lidar.PointCloud) {
	for i := range cloud {
		cloud[i] = lidar.Point{
			X:         cloud[i].Y,
			Y:         cloud[i].Z,
			Z:         cloud[i].X,
			Intensity: cloud[i].Intensity,
		}
	}
}

func TestExtractFeaturesFromStreetScene(t *testing.T) {
	params := lidar.VLP16Params()
	out := projectScene(t, params, synthetic.SensorPose{})
	cameraRemap(out.SegmentedCloud)

	e := NewExtractor(params)
	e.Run(out.SegmentedCloud, &out.SegInfo)

	if len(e.CornerSharp) == 0 {
		t.Error("no sharp corners from pillar edges")
	}
	if len(e.CornerLessSharp) < len(e.CornerSharp) {
		t.Error("less-sharp corners must include every sharp corner")
	}
	if len(e.SurfFlat) == 0 {
		t.Error("no flat surface points from the ground plane")
	}
	if len(e.SurfLessFlat) == 0 {
		t.Error("no less-flat surface points")
	}
}

// Per ring-sector caps: 2 sharp corners, 20 less-sharp corners, 4 flat
// surface points.
func TestFeatureCountCaps(t *testing.T) {
	params := lidar.VLP16Params()
	out := projectScene(t, params, synthetic.SensorPose{})
	cameraRemap(out.SegmentedCloud)

	e := NewExtractor(params)
	e.Run(out.SegmentedCloud, &out.SegInfo)

	if got, max := len(e.CornerSharp), params.NScan*6*2; got > max {
		t.Errorf("%d sharp corners exceeds cap %d", got, max)
	}
	if got, max := len(e.CornerLessSharp), params.NScan*6*20; got > max {
		t.Errorf("%d less-sharp corners exceeds cap %d", got, max)
	}
	if got, max := len(e.SurfFlat), params.NScan*6*4; got > max {
		t.Errorf("%d flat surface points exceeds cap %d", got, max)
	}

	// Per-ring caps follow from the 6 sectors: 12 sharp corners, 24 flat
	// surface points.
	sharpPerRing := map[int]int{}
	for _, p := range e.CornerSharp {
		sharpPerRing[p.RowIndex()]++
	}
	for ring, n := range sharpPerRing {
		if n > 12 {
			t.Errorf("ring %d has %d sharp corners, cap is 12 (2 per sector)", ring, n)
		}
	}

	flatPerRing := map[int]int{}
	for _, p := range e.SurfFlat {
		flatPerRing[p.RowIndex()]++
	}
	for ring, n := range flatPerRing {
		if n > 24 {
			t.Errorf("ring %d has %d flat points, cap is 24 (4 per sector)", ring, n)
		}
	}
}

// No two voxel-filtered points may share a leaf-sized cube.
func TestVoxelDownsampleSpacing(t *testing.T) {
	const leaf = 0.2

	cloud := lidar.PointCloud{}
	for i := 0; i < 100; i++ {
		cloud = append(cloud, lidar.Point{
			X: float64(i) * 0.03,
			Y: float64(i%7) * 0.05,
			Z: 0,
		})
	}

	out := VoxelDownsample(cloud, leaf)
	if len(out) == 0 || len(out) >= len(cloud) {
		t.Fatalf("downsample produced %d of %d points", len(out), len(cloud))
	}

	for i := range out {
		for j := i + 1; j < len(out); j++ {
			sameCell := math.Floor(out[i].X/leaf) == math.Floor(out[j].X/leaf) &&
				math.Floor(out[i].Y/leaf) == math.Floor(out[j].Y/leaf) &&
				math.Floor(out[i].Z/leaf) == math.Floor(out[j].Z/leaf)
			if sameCell {
				t.Fatalf("points %d and %d share a voxel", i, j)
			}
		}
	}
}

func TestVoxelDownsampleCentroid(t *testing.T) {
	cloud := lidar.PointCloud{
		{X: 0.00, Y: 0, Z: 0, Intensity: 3},
		{X: 0.10, Y: 0, Z: 0, Intensity: 7},
	}
	out := VoxelDownsample(cloud, 0.2)
	if len(out) != 1 {
		t.Fatalf("got %d points, want 1", len(out))
	}
	if math.Abs(out[0].X-0.05) > 1e-12 {
		t.Errorf("centroid X = %v, want 0.05", out[0].X)
	}
	if out[0].Intensity != 3 {
		t.Errorf("intensity = %v, want first point's tag", out[0].Intensity)
	}
}

func TestVoxelDownsampleEmpty(t *testing.T) {
	if got := VoxelDownsample(nil, 0.2); got != nil {
		t.Errorf("nil cloud should downsample to nil, got %v", got)
	}
	if got := VoxelDownsample(lidar.PointCloud{{X: 1}}, 0); got != nil {
		t.Errorf("non-positive leaf should return nil, got %v", got)
	}
}

// Ground points never become corners; non-ground points never become flat
// surfaces.
func TestGroundOptimizedSplit(t *testing.T) {
	params := lidar.VLP16Params()
	out := projectScene(t, params, synthetic.SensorPose{})

	groundByIndex := map[int]bool{}
	for k := range out.SegmentedCloud {
		groundByIndex[k] = out.SegInfo.SegmentedCloudGroundFlag[k]
	}

	cameraRemap(out.SegmentedCloud)
	e := NewExtractor(params)
	e.Run(out.SegmentedCloud, &out.SegInfo)

	// Flat surfaces must all be tagged ground; the flag travels by cloud
	// index, which the original row tag still encodes.
	for _, p := range e.SurfFlat {
		idx := indexOf(out.SegmentedCloud, p)
		if idx < 0 {
			t.Fatal("flat surface point not found in segmented cloud")
		}
		if !groundByIndex[idx] {
			t.Error("flat surface point not flagged as ground")
		}
	}
	for _, p := range e.CornerSharp {
		idx := indexOf(out.SegmentedCloud, p)
		if idx < 0 {
			t.Fatal("corner point not found in segmented cloud")
		}
		if groundByIndex[idx] {
			t.Error("sharp corner extracted from ground")
		}
	}
}

func indexOf(cloud lidar.PointCloud, p lidar.Point) int {
	for i := range cloud {
		if cloud[i] == p {
			return i
		}
	}
	return -1
}
