package lidar

import "math"

// Quaternion is an orientation in (X, Y, Z, W) component order, matching the
// wire layout of the IMU input and the odometry output.
type Quaternion struct {
	X, Y, Z, W float64
}

// QuaternionToRPY extracts intrinsic roll/pitch/yaw (X-Y-Z body angles) from
// a unit quaternion.
func QuaternionToRPY(q Quaternion) (roll, pitch, yaw float64) {
	sinr := 2 * (q.W*q.X + q.Y*q.Z)
	cosr := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll = math.Atan2(sinr, cosr)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	siny := 2 * (q.W*q.Z + q.X*q.Y)
	cosy := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw = math.Atan2(siny, cosy)
	return roll, pitch, yaw
}

// QuaternionFromRPY builds a unit quaternion from roll/pitch/yaw.
func QuaternionFromRPY(roll, pitch, yaw float64) Quaternion {
	cr := math.Cos(roll / 2)
	sr := math.Sin(roll / 2)
	cp := math.Cos(pitch / 2)
	sp := math.Sin(pitch / 2)
	cy := math.Cos(yaw / 2)
	sy := math.Sin(yaw / 2)

	return Quaternion{
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
		W: cr*cp*cy + sr*sp*sy,
	}
}
