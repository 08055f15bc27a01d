package lidar

import (
	"math"
	"testing"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestPositionalTagRoundTrip(t *testing.T) {
	cases := []struct {
		row, col int
	}{
		{0, 0},
		{0, 1799},
		{7, 900},
		{15, 1},
		{15, 1799},
	}

	for _, tc := range cases {
		p := Point{Intensity: float64(tc.row) + float64(tc.col)/10000.0}
		if got := p.RowIndex(); got != tc.row {
			t.Errorf("RowIndex() for (%d,%d) = %d, want %d", tc.row, tc.col, got, tc.row)
		}
		if got := p.ColIndex(); got != tc.col {
			t.Errorf("ColIndex() for (%d,%d) = %d, want %d", tc.row, tc.col, got, tc.col)
		}
	}
}

func TestTemporalTagRoundTrip(t *testing.T) {
	const scanPeriod = 0.1
	for _, relTime := range []float64{0, 0.25, 0.5, 0.999} {
		p := Point{Intensity: 12 + scanPeriod*relTime}
		if p.RowIndex() != 12 {
			t.Errorf("RowIndex() = %d, want 12", p.RowIndex())
		}
		if got := p.RelTime(scanPeriod); !floatEquals(got, relTime, 1e-9) {
			t.Errorf("RelTime() = %v, want %v", got, relTime)
		}
	}
}

func TestToCameraFrame(t *testing.T) {
	p := Point{X: 1, Y: 2, Z: 3, Intensity: 4}
	got := p.ToCameraFrame()
	want := Point{X: 2, Y: 3, Z: 1, Intensity: 4}
	if got != want {
		t.Errorf("ToCameraFrame() = %+v, want %+v", got, want)
	}
}

func TestPointRange(t *testing.T) {
	p := Point{X: 3, Y: 4, Z: 12}
	if got := p.Range(); !floatEquals(got, 13, 1e-12) {
		t.Errorf("Range() = %v, want 13", got)
	}
}

func TestPointCloudCloneOwnership(t *testing.T) {
	c := PointCloud{{X: 1}, {X: 2}}
	clone := c.Clone()
	clone[0].X = 99
	if c[0].X != 1 {
		t.Error("Clone() shares backing array with original")
	}

	var empty PointCloud
	if empty.Clone() != nil {
		t.Error("Clone() of empty cloud should be nil")
	}
}

func TestVec3Ops(t *testing.T) {
	v := Vec3{1, 2, 3}
	w := Vec3{4, 5, 6}

	if got := v.Add(w); got != (Vec3{5, 7, 9}) {
		t.Errorf("Add = %+v", got)
	}
	if got := w.Sub(v); got != (Vec3{3, 3, 3}) {
		t.Errorf("Sub = %+v", got)
	}
	if got := v.Scale(2); got != (Vec3{2, 4, 6}) {
		t.Errorf("Scale = %+v", got)
	}
	if !(Vec3{}).IsZero() {
		t.Error("zero Vec3 should report IsZero")
	}
	if v.IsZero() {
		t.Error("nonzero Vec3 should not report IsZero")
	}
}
