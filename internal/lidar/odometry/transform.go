package odometry

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// relTime recovers the fractional scan time in [0,1] from a temporal
// intensity tag.
func (e *Estimator) relTime(p lidar.Point) float64 {
	return (p.Intensity - float64(int(p.Intensity))) / e.params.ScanPeriod
}

// transformToStart warps a point to the scan-start frame by removing the
// fraction of the current increment accumulated by the point's acquisition
// time. The rotation applies rz, then rx, then ry; the ordering encodes the
// camera-frame axis permutation and must not be reordered.
func (e *Estimator) transformToStart(pi lidar.Point) lidar.Point {
	s := e.relTime(pi)

	rx := s * e.TransformCur[0]
	ry := s * e.TransformCur[1]
	rz := s * e.TransformCur[2]
	tx := s * e.TransformCur[3]
	ty := s * e.TransformCur[4]
	tz := s * e.TransformCur[5]

	x1 := math.Cos(rz)*(pi.X-tx) + math.Sin(rz)*(pi.Y-ty)
	y1 := -math.Sin(rz)*(pi.X-tx) + math.Cos(rz)*(pi.Y-ty)
	z1 := pi.Z - tz

	x2 := x1
	y2 := math.Cos(rx)*y1 + math.Sin(rx)*z1
	z2 := -math.Sin(rx)*y1 + math.Cos(rx)*z1

	return lidar.Point{
		X:         math.Cos(ry)*x2 - math.Sin(ry)*z2,
		Y:         y2,
		Z:         math.Sin(ry)*x2 + math.Cos(ry)*z2,
		Intensity: pi.Intensity,
	}
}

// transformToEnd warps a point to the scan-end frame: first to scan start,
// then forward through the full increment, then through the IMU drift
// correction from the scan-start attitude to the scan-end attitude. The
// result carries the integer ring tag only.
func (e *Estimator) transformToEnd(pi lidar.Point) lidar.Point {
	s := e.relTime(pi)

	rx := s * e.TransformCur[0]
	ry := s * e.TransformCur[1]
	rz := s * e.TransformCur[2]
	tx := s * e.TransformCur[3]
	ty := s * e.TransformCur[4]
	tz := s * e.TransformCur[5]

	x1 := math.Cos(rz)*(pi.X-tx) + math.Sin(rz)*(pi.Y-ty)
	y1 := -math.Sin(rz)*(pi.X-tx) + math.Cos(rz)*(pi.Y-ty)
	z1 := pi.Z - tz

	x2 := x1
	y2 := math.Cos(rx)*y1 + math.Sin(rx)*z1
	z2 := -math.Sin(rx)*y1 + math.Cos(rx)*z1

	x3 := math.Cos(ry)*x2 - math.Sin(ry)*z2
	y3 := y2
	z3 := math.Sin(ry)*x2 + math.Cos(ry)*z2

	rx = e.TransformCur[0]
	ry = e.TransformCur[1]
	rz = e.TransformCur[2]
	tx = e.TransformCur[3]
	ty = e.TransformCur[4]
	tz = e.TransformCur[5]

	x4 := math.Cos(ry)*x3 + math.Sin(ry)*z3
	y4 := y3
	z4 := -math.Sin(ry)*x3 + math.Cos(ry)*z3

	x5 := x4
	y5 := math.Cos(rx)*y4 - math.Sin(rx)*z4
	z5 := math.Sin(rx)*y4 + math.Cos(rx)*z4

	x6 := math.Cos(rz)*x5 - math.Sin(rz)*y5 + tx
	y6 := math.Sin(rz)*x5 + math.Cos(rz)*y5 + ty
	z6 := z5 + tz

	cosRollStart, sinRollStart, cosPitchStart, sinPitchStart, cosYawStart, sinYawStart := e.dsk.StartSinCos()
	shiftFromStart := e.dsk.ShiftFromStart

	x7 := cosRollStart*(x6-shiftFromStart.X) - sinRollStart*(y6-shiftFromStart.Y)
	y7 := sinRollStart*(x6-shiftFromStart.X) + cosRollStart*(y6-shiftFromStart.Y)
	z7 := z6 - shiftFromStart.Z

	x8 := x7
	y8 := cosPitchStart*y7 - sinPitchStart*z7
	z8 := sinPitchStart*y7 + cosPitchStart*z7

	x9 := cosYawStart*x8 + sinYawStart*z8
	y9 := y8
	z9 := -sinYawStart*x8 + cosYawStart*z8

	yawLast := e.dsk.YawLast
	pitchLast := e.dsk.PitchLast
	rollLast := e.dsk.RollLast

	x10 := math.Cos(yawLast)*x9 - math.Sin(yawLast)*z9
	y10 := y9
	z10 := math.Sin(yawLast)*x9 + math.Cos(yawLast)*z9

	x11 := x10
	y11 := math.Cos(pitchLast)*y10 + math.Sin(pitchLast)*z10
	z11 := -math.Sin(pitchLast)*y10 + math.Cos(pitchLast)*z10

	return lidar.Point{
		X:         math.Cos(rollLast)*x11 + math.Sin(rollLast)*y11,
		Y:         -math.Sin(rollLast)*x11 + math.Cos(rollLast)*y11,
		Z:         z11,
		Intensity: float64(int(pi.Intensity)),
	}
}

// accumulateRotation composes the global rotation (cx,cy,cz) with the
// per-scan increment (lx,ly,lz). The closed form encodes the 3-2-1 Euler
// order with the camera-frame axis permutation; every sign is load-bearing.
func accumulateRotation(cx, cy, cz, lx, ly, lz float64) (ox, oy, oz float64) {
	srx := math.Cos(lx)*math.Cos(cx)*math.Sin(ly)*math.Sin(cz) -
		math.Cos(cx)*math.Cos(cz)*math.Sin(lx) - math.Cos(lx)*math.Cos(ly)*math.Sin(cx)
	ox = -math.Asin(srx)

	srycrx := math.Sin(lx)*(math.Cos(cy)*math.Sin(cz)-math.Cos(cz)*math.Sin(cx)*math.Sin(cy)) +
		math.Cos(lx)*math.Sin(ly)*(math.Cos(cy)*math.Cos(cz)+math.Sin(cx)*math.Sin(cy)*math.Sin(cz)) +
		math.Cos(lx)*math.Cos(ly)*math.Cos(cx)*math.Sin(cy)
	crycrx := math.Cos(lx)*math.Cos(ly)*math.Cos(cx)*math.Cos(cy) -
		math.Cos(lx)*math.Sin(ly)*(math.Cos(cz)*math.Sin(cy)-math.Cos(cy)*math.Sin(cx)*math.Sin(cz)) -
		math.Sin(lx)*(math.Sin(cy)*math.Sin(cz)+math.Cos(cy)*math.Cos(cz)*math.Sin(cx))
	oy = math.Atan2(srycrx/math.Cos(ox), crycrx/math.Cos(ox))

	srzcrx := math.Sin(cx)*(math.Cos(lz)*math.Sin(ly)-math.Cos(ly)*math.Sin(lx)*math.Sin(lz)) +
		math.Cos(cx)*math.Sin(cz)*(math.Cos(ly)*math.Cos(lz)+math.Sin(lx)*math.Sin(ly)*math.Sin(lz)) +
		math.Cos(lx)*math.Cos(cx)*math.Cos(cz)*math.Sin(lz)
	crzcrx := math.Cos(lx)*math.Cos(lz)*math.Cos(cx)*math.Cos(cz) -
		math.Cos(cx)*math.Sin(cz)*(math.Cos(ly)*math.Sin(lz)-math.Cos(lz)*math.Sin(lx)*math.Sin(ly)) -
		math.Sin(cx)*(math.Sin(ly)*math.Sin(lz)+math.Cos(ly)*math.Cos(lz)*math.Sin(lx))
	oz = math.Atan2(srzcrx/math.Cos(ox), crzcrx/math.Cos(ox))
	return ox, oy, oz
}

// pluginIMURotation folds the difference between the IMU attitude at scan
// start (bl*) and at scan end (al*) into the accumulated rotation (bc*).
func pluginIMURotation(bcx, bcy, bcz, blx, bly, blz, alx, aly, alz float64) (acx, acy, acz float64) {
	sbcx := math.Sin(bcx)
	cbcx := math.Cos(bcx)
	sbcy := math.Sin(bcy)
	cbcy := math.Cos(bcy)
	sbcz := math.Sin(bcz)
	cbcz := math.Cos(bcz)

	sblx := math.Sin(blx)
	cblx := math.Cos(blx)
	sbly := math.Sin(bly)
	cbly := math.Cos(bly)
	sblz := math.Sin(blz)
	cblz := math.Cos(blz)

	salx := math.Sin(alx)
	calx := math.Cos(alx)
	saly := math.Sin(aly)
	caly := math.Cos(aly)
	salz := math.Sin(alz)
	calz := math.Cos(alz)

	srx := -sbcx*(salx*sblx+calx*caly*cblx*cbly+calx*cblx*saly*sbly) -
		cbcx*cbcz*(calx*saly*(cbly*sblz-cblz*sblx*sbly)-
			calx*caly*(sbly*sblz+cbly*cblz*sblx)+cblx*cblz*salx) -
		cbcx*sbcz*(calx*caly*(cblz*sbly-cbly*sblx*sblz)-
			calx*saly*(cbly*cblz+sblx*sbly*sblz)+cblx*salx*sblz)
	acx = -math.Asin(srx)

	srycrx := (cbcy*sbcz-cbcz*sbcx*sbcy)*
		(calx*saly*(cbly*sblz-cblz*sblx*sbly)-
			calx*caly*(sbly*sblz+cbly*cblz*sblx)+cblx*cblz*salx) -
		(cbcy*cbcz+sbcx*sbcy*sbcz)*
			(calx*caly*(cblz*sbly-cbly*sblx*sblz)-
				calx*saly*(cbly*cblz+sblx*sbly*sblz)+cblx*salx*sblz) +
		cbcx*sbcy*(salx*sblx+calx*caly*cblx*cbly+calx*cblx*saly*sbly)
	crycrx := (cbcz*sbcy-cbcy*sbcx*sbcz)*
		(calx*caly*(cblz*sbly-cbly*sblx*sblz)-
			calx*saly*(cbly*cblz+sblx*sbly*sblz)+cblx*salx*sblz) -
		(sbcy*sbcz+cbcy*cbcz*sbcx)*
			(calx*saly*(cbly*sblz-cblz*sblx*sbly)-
				calx*caly*(sbly*sblz+cbly*cblz*sblx)+cblx*cblz*salx) +
		cbcx*cbcy*(salx*sblx+calx*caly*cblx*cbly+calx*cblx*saly*sbly)
	acy = math.Atan2(srycrx/math.Cos(acx), crycrx/math.Cos(acx))

	srzcrx := sbcx*(cblx*cbly*(calz*saly-caly*salx*salz)-
		cblx*sbly*(caly*calz+salx*saly*salz)+calx*salz*sblx) -
		cbcx*cbcz*((caly*calz+salx*saly*salz)*(cbly*sblz-cblz*sblx*sbly)+
			(calz*saly-caly*salx*salz)*(sbly*sblz+cbly*cblz*sblx)-
			calx*cblx*cblz*salz) +
		cbcx*sbcz*((caly*calz+salx*saly*salz)*(cbly*cblz+sblx*sbly*sblz)+
			(calz*saly-caly*salx*salz)*(cblz*sbly-cbly*sblx*sblz)+
			calx*cblx*salz*sblz)
	crzcrx := sbcx*(cblx*sbly*(caly*salz-calz*salx*saly)-
		cblx*cbly*(saly*salz+caly*calz*salx)+calx*calz*sblx) +
		cbcx*cbcz*((saly*salz+caly*calz*salx)*(sbly*sblz+cbly*cblz*sblx)+
			(caly*salz-calz*salx*saly)*(cbly*sblz-cblz*sblx*sbly)+
			calx*calz*cblx*cblz) -
		cbcx*sbcz*((saly*salz+caly*calz*salx)*(cblz*sbly-cbly*sblx*sblz)+
			(caly*salz-calz*salx*saly)*(cbly*cblz+sblx*sbly*sblz)-
			calx*calz*cblx*sblz)
	acz = math.Atan2(srzcrx/math.Cos(acx), crzcrx/math.Cos(acx))
	return acx, acy, acz
}
