package lidar

import (
	"math"
	"testing"
)

func TestQuaternionRPYRoundTrip(t *testing.T) {
	cases := []struct {
		roll, pitch, yaw float64
	}{
		{0, 0, 0},
		{0.1, 0, 0},
		{0, 0.2, 0},
		{0, 0, -0.3},
		{0.1, -0.2, 0.3},
		{-1.0, 0.5, 2.5},
	}

	for _, tc := range cases {
		q := QuaternionFromRPY(tc.roll, tc.pitch, tc.yaw)
		roll, pitch, yaw := QuaternionToRPY(q)
		if !floatEquals(roll, tc.roll, 1e-9) ||
			!floatEquals(pitch, tc.pitch, 1e-9) ||
			!floatEquals(yaw, tc.yaw, 1e-9) {
			t.Errorf("round trip (%v,%v,%v) = (%v,%v,%v)",
				tc.roll, tc.pitch, tc.yaw, roll, pitch, yaw)
		}
	}
}

func TestQuaternionFromRPYUnitNorm(t *testing.T) {
	q := QuaternionFromRPY(0.4, -1.1, 2.0)
	norm := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if !floatEquals(norm, 1, 1e-12) {
		t.Errorf("quaternion norm = %v, want 1", norm)
	}
}

func TestQuaternionToRPYGimbalClamp(t *testing.T) {
	// A quaternion with sin(pitch) numerically above 1 must clamp, not NaN.
	q := QuaternionFromRPY(0, math.Pi/2, 0)
	_, pitch, _ := QuaternionToRPY(q)
	if math.IsNaN(pitch) {
		t.Fatal("pitch is NaN at gimbal lock")
	}
	if !floatEquals(pitch, math.Pi/2, 1e-6) {
		t.Errorf("pitch = %v, want pi/2", pitch)
	}
}
