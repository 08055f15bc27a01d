package rangeimage

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/synthetic"
)

// pointAt builds a point that projects onto the exact (row, col) cell at
// the given range.
func pointAt(params lidar.ScanParams, row, col int, r float64) lidar.Point {
	va := (float64(row)+0.5)*params.AngResY - params.AngBottom
	ha := math.Pi/2 - float64(col-params.HorizontalScan/2)*params.AngResX
	return lidar.Point{
		X:         r * math.Cos(va) * math.Sin(ha),
		Y:         r * math.Cos(va) * math.Cos(ha),
		Z:         r * math.Sin(va),
		Intensity: 100,
	}
}

func scanTime() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestProjectionCellMapping(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	cells := []struct {
		row, col int
		r        float64
	}{
		{0, 0, 5},
		{3, 42, 9.5},
		{8, 900, 20},
		{15, 1799, 7.25},
	}

	cloud := lidar.PointCloud{}
	for _, c := range cells {
		cloud = append(cloud, pointAt(params, c.row, c.col, c.r))
	}
	p.Process(cloud, scanTime())

	for _, c := range cells {
		if got := p.RangeAt(c.row, c.col); !almostEqual(got, c.r, 1e-9) {
			t.Errorf("RangeAt(%d,%d) = %v, want %v", c.row, c.col, got, c.r)
		}
		full := p.FullCloud()[c.col+c.row*params.HorizontalScan]
		if full.RowIndex() != c.row || full.ColIndex() != c.col {
			t.Errorf("tag decodes to (%d,%d), want (%d,%d)",
				full.RowIndex(), full.ColIndex(), c.row, c.col)
		}
		info := p.FullInfoCloud()[c.col+c.row*params.HorizontalScan]
		if !almostEqual(info.Intensity, c.r, 1e-9) {
			t.Errorf("info intensity = %v, want range %v", info.Intensity, c.r)
		}
	}
}

func TestProjectionDiscardsCloseReturns(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	cloud := lidar.PointCloud{pointAt(params, 4, 100, 0.05)}
	p.Process(cloud, scanTime())

	if !math.IsInf(p.RangeAt(4, 100), 1) {
		t.Error("return below 0.1m should be discarded")
	}
}

func TestStartEndOrientationWindow(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	scene := synthetic.StreetScene()
	out := p.Process(scene.Cloud(params, synthetic.SensorPose{}), scanTime())

	diff := out.SegInfo.OrientationDiff
	if diff <= math.Pi || diff >= 3*math.Pi {
		t.Errorf("orientationDiff = %v, want in (pi, 3pi)", diff)
	}
	if out.SegInfo.EndOrientation-out.SegInfo.StartOrientation != diff {
		t.Error("orientationDiff inconsistent with start/end")
	}
}

// The emission bookkeeping must agree with the ring windows: each ring's
// inset window covers exactly its emitted points.
func TestSegmentedCloudMatchesRingWindows(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	scene := synthetic.StreetScene()
	out := p.Process(scene.Cloud(params, synthetic.SensorPose{}), scanTime())

	if len(out.SegmentedCloud) == 0 {
		t.Fatal("no segmented points from street scene")
	}

	total := 0
	for i := 0; i < params.NScan; i++ {
		n := out.SegInfo.EndRingIndex[i] - out.SegInfo.StartRingIndex[i] + 10
		if n < 0 {
			t.Errorf("ring %d window negative: start %d end %d",
				i, out.SegInfo.StartRingIndex[i], out.SegInfo.EndRingIndex[i])
			continue
		}
		total += n
	}
	if total != len(out.SegmentedCloud) {
		t.Errorf("ring windows sum to %d points, segmented cloud has %d",
			total, len(out.SegmentedCloud))
	}

	// Windows are monotonically ordered across rings.
	for i := 1; i < params.NScan; i++ {
		if out.SegInfo.StartRingIndex[i] < out.SegInfo.StartRingIndex[i-1] {
			t.Errorf("startRingIndex not monotonic at ring %d", i)
		}
	}

	// Companion slices stay index-aligned with the cloud.
	if len(out.SegInfo.SegmentedCloudGroundFlag) != len(out.SegmentedCloud) ||
		len(out.SegInfo.SegmentedCloudColInd) != len(out.SegmentedCloud) ||
		len(out.SegInfo.SegmentedCloudRange) != len(out.SegmentedCloud) {
		t.Fatal("SegInfo companion slices out of step with segmented cloud")
	}
}

// Every emitted point's column index and range must be recoverable from the
// range image through the point's own positional tag.
func TestSegmentedCloudTagConsistency(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	scene := synthetic.StreetScene()
	out := p.Process(scene.Cloud(params, synthetic.SensorPose{}), scanTime())

	for k, pt := range out.SegmentedCloud {
		col := out.SegInfo.SegmentedCloudColInd[k]
		if col < 0 || col >= params.HorizontalScan {
			t.Fatalf("point %d: column %d out of range", k, col)
		}
		row := pt.RowIndex()
		if pt.ColIndex() != col {
			t.Fatalf("point %d: tag column %d != recorded column %d", k, pt.ColIndex(), col)
		}
		if got := p.RangeAt(row, col); !almostEqual(got, out.SegInfo.SegmentedCloudRange[k], 1e-9) {
			t.Fatalf("point %d: range_mat %v != recorded range %v",
				k, got, out.SegInfo.SegmentedCloudRange[k])
		}
	}
}

// After segmentation every populated non-ground cell carries either a
// cluster id or the rejection label, and ids are dense from 1.
func TestSegmentationLabelPartition(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	scene := synthetic.StreetScene()
	p.Process(scene.Cloud(params, synthetic.SensorPose{}), scanTime())

	seen := map[int32]bool{}
	for row := 0; row < params.NScan; row++ {
		for col := 0; col < params.HorizontalScan; col++ {
			label := p.LabelAt(row, col)
			populated := !math.IsInf(p.RangeAt(row, col), 1)
			ground := p.GroundAt(row, col) == 1

			if populated && !ground {
				if label <= 0 {
					t.Fatalf("cell (%d,%d) populated non-ground but label %d", row, col, label)
				}
				if label != labelRejected {
					seen[label] = true
				}
			}
			if !populated && label != -1 {
				t.Fatalf("empty cell (%d,%d) has label %d, want -1", row, col, label)
			}
		}
	}

	count := int32(p.LabelCount())
	if count < 2 {
		t.Fatal("street scene produced no clusters")
	}

	// The cluster-tagged cloud carries one point per clustered cell, with
	// the cluster id in intensity.
	clustered := 0
	for row := 0; row < params.NScan; row++ {
		for col := 0; col < params.HorizontalScan; col++ {
			if l := p.LabelAt(row, col); l > 0 && l != labelRejected {
				clustered++
			}
		}
	}
	pure := p.SegmentedCloudPure()
	if len(pure) != clustered {
		t.Errorf("pure cloud has %d points for %d clustered cells", len(pure), clustered)
	}
	for _, pt := range pure {
		if id := int32(pt.Intensity); id < 1 || id >= count {
			t.Fatalf("pure cloud point carries cluster id %d outside [1,%d)", id, count)
		}
	}
	for id := int32(1); id < count; id++ {
		if !seen[id] {
			t.Errorf("cluster id %d assigned but never stored", id)
		}
	}
	for id := range seen {
		if id >= count {
			t.Errorf("stored label %d out of dense range [1,%d)", id, count)
		}
	}
}

// A 29-point cluster is accepted when it spans enough rows, rejected when
// flat: size >= segmentValidPointNum with rows >= segmentValidLineNum
// passes, otherwise the cluster needs 30 points.
func TestClusterValidityByRowSpread(t *testing.T) {
	params := lidar.VLP16Params()
	params.SegmentValidPointNum = 5
	params.SegmentValidLineNum = 3

	// 29 cells over 4 rows: 7 columns x 4 rows plus one extra.
	tall := lidar.PointCloud{}
	for row := 8; row < 12; row++ {
		for col := 100; col < 107; col++ {
			tall = append(tall, pointAt(params, row, col, 15))
		}
	}
	tall = append(tall, pointAt(params, 8, 107, 15))

	p := NewProjector(params)
	p.Process(tall, scanTime())
	if label := p.LabelAt(8, 100); label <= 0 || label == labelRejected {
		t.Errorf("4-row cluster of 29: label = %d, want positive cluster id", label)
	}

	// Same 29 cells over 2 rows.
	flat := lidar.PointCloud{}
	for row := 8; row < 10; row++ {
		for col := 100; col < 114; col++ {
			flat = append(flat, pointAt(params, row, col, 15))
		}
	}
	flat = append(flat, pointAt(params, 8, 114, 15))

	p2 := NewProjector(params)
	p2.Process(flat, scanTime())
	if label := p2.LabelAt(8, 100); label != labelRejected {
		t.Errorf("2-row cluster of 29: label = %d, want %d", label, labelRejected)
	}
}

func TestClusterOfThirtyAlwaysAccepted(t *testing.T) {
	params := lidar.VLP16Params()
	cloud := lidar.PointCloud{}
	for col := 100; col < 130; col++ {
		cloud = append(cloud, pointAt(params, 9, col, 12))
	}

	p := NewProjector(params)
	p.Process(cloud, scanTime())
	if label := p.LabelAt(9, 100); label <= 0 || label == labelRejected {
		t.Errorf("30-point single-row cluster: label = %d, want positive id", label)
	}
}

func TestGroundDetectionOnFlatPlane(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	scene := synthetic.Scene{SensorHeight: 1.8, MaxRange: 80}
	p.Process(scene.Cloud(params, synthetic.SensorPose{}), scanTime())

	groundCells := 0
	for row := 0; row <= params.GroundScanInd; row++ {
		for col := 0; col < params.HorizontalScan; col++ {
			if p.GroundAt(row, col) == 1 {
				groundCells++
			}
		}
	}
	if groundCells == 0 {
		t.Fatal("flat plane produced no ground cells")
	}
	if len(p.GroundCloud()) != groundCells {
		t.Errorf("ground cloud has %d points for %d ground cells", len(p.GroundCloud()), groundCells)
	}

	// Upward beams never hit the plane, so nothing above groundScanInd may
	// be populated.
	for row := params.GroundScanInd + 1; row < params.NScan; row++ {
		for col := 0; col < params.HorizontalScan; col++ {
			if !math.IsInf(p.RangeAt(row, col), 1) {
				t.Fatalf("upward beam (%d,%d) hit the ground plane", row, col)
			}
		}
	}
}

func TestEmptyCloudProducesEmptyBundle(t *testing.T) {
	params := lidar.VLP16Params()
	p := NewProjector(params)

	out := p.Process(nil, scanTime())
	if len(out.SegmentedCloud) != 0 || len(out.OutlierCloud) != 0 {
		t.Error("empty scan should emit no points")
	}
	if len(out.SegInfo.StartRingIndex) != params.NScan {
		t.Error("ring windows must be sized even for empty scans")
	}
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}
