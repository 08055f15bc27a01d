package imu

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/rangeimage"
)

// Deskewer carries the per-scan IMU interpolation state used to motion
// compensate the segmented cloud and to seed the solver. All methods must be
// called with the owning Buffer locked; the association worker holds the
// lock across each scan.
type Deskewer struct {
	buf *Buffer

	pointerFront         int
	pointerLastIteration int

	scanPeriod float64

	// Interpolated pose at the first point of the current scan, with the
	// sin/cos of the start attitude cached for the inverse rotations.
	RollStart, PitchStart, YawStart                   float64
	cosRollStart, cosPitchStart, cosYawStart          float64
	sinRollStart, sinPitchStart, sinYawStart          float64
	VeloStart, ShiftStart                             lidar.Vec3

	// Interpolated pose at the point currently being deskewed.
	RollCur, PitchCur, YawCur float64
	VeloCur, ShiftCur         lidar.Vec3

	ShiftFromStartCur lidar.Vec3
	VeloFromStartCur  lidar.Vec3

	AngularRotationCur  lidar.Vec3
	AngularRotationLast lidar.Vec3
	AngularFromStart    lidar.Vec3

	// Values frozen at the previous scan for end-frame warping and the
	// rotation plug-in during pose integration.
	RollLast, PitchLast, YawLast float64
	ShiftFromStart               lidar.Vec3
	VeloFromStart                lidar.Vec3
}

// NewDeskewer creates a deskewer bound to buf.
func NewDeskewer(buf *Buffer) *Deskewer {
	return &Deskewer{buf: buf, scanPeriod: buf.scanPeriod}
}

// UpdateStartSinCos refreshes the cached trigonometry of the scan-start
// attitude. Also called before end-frame warping, which reuses the cache.
func (d *Deskewer) UpdateStartSinCos() {
	d.cosRollStart = math.Cos(d.RollStart)
	d.cosPitchStart = math.Cos(d.PitchStart)
	d.cosYawStart = math.Cos(d.YawStart)
	d.sinRollStart = math.Sin(d.RollStart)
	d.sinPitchStart = math.Sin(d.PitchStart)
	d.sinYawStart = math.Sin(d.YawStart)
}

// shiftToStartIMU expresses the accumulated position drift since scan start
// in the scan-start frame, removing the portion explained by the start
// velocity over pointTime.
func (d *Deskewer) shiftToStartIMU(pointTime float64) {
	d.ShiftFromStartCur = d.ShiftCur.Sub(d.ShiftStart).Sub(d.VeloStart.Scale(pointTime))

	x1 := d.cosYawStart*d.ShiftFromStartCur.X - d.sinYawStart*d.ShiftFromStartCur.Z
	y1 := d.ShiftFromStartCur.Y
	z1 := d.sinYawStart*d.ShiftFromStartCur.X + d.cosYawStart*d.ShiftFromStartCur.Z

	x2 := x1
	y2 := d.cosPitchStart*y1 + d.sinPitchStart*z1
	z2 := -d.sinPitchStart*y1 + d.cosPitchStart*z1

	d.ShiftFromStartCur.X = d.cosRollStart*x2 + d.sinRollStart*y2
	d.ShiftFromStartCur.Y = -d.sinRollStart*x2 + d.cosRollStart*y2
	d.ShiftFromStartCur.Z = z2
}

// veloToStartIMU rotates the velocity change since scan start into the
// scan-start frame.
func (d *Deskewer) veloToStartIMU() {
	d.VeloFromStartCur = d.VeloCur.Sub(d.VeloStart)

	x1 := d.cosYawStart*d.VeloFromStartCur.X - d.sinYawStart*d.VeloFromStartCur.Z
	y1 := d.VeloFromStartCur.Y
	z1 := d.sinYawStart*d.VeloFromStartCur.X + d.cosYawStart*d.VeloFromStartCur.Z

	x2 := x1
	y2 := d.cosPitchStart*y1 + d.sinPitchStart*z1
	z2 := -d.sinPitchStart*y1 + d.cosPitchStart*z1

	d.VeloFromStartCur.X = d.cosRollStart*x2 + d.sinRollStart*y2
	d.VeloFromStartCur.Y = -d.sinRollStart*x2 + d.cosRollStart*y2
	d.VeloFromStartCur.Z = z2
}

// transformToStartIMU rotates a point from its own acquisition attitude into
// the scan-start frame and applies the deskew shift.
func (d *Deskewer) transformToStartIMU(p *lidar.Point) {
	x1 := math.Cos(d.RollCur)*p.X - math.Sin(d.RollCur)*p.Y
	y1 := math.Sin(d.RollCur)*p.X + math.Cos(d.RollCur)*p.Y
	z1 := p.Z

	x2 := x1
	y2 := math.Cos(d.PitchCur)*y1 - math.Sin(d.PitchCur)*z1
	z2 := math.Sin(d.PitchCur)*y1 + math.Cos(d.PitchCur)*z1

	x3 := math.Cos(d.YawCur)*x2 + math.Sin(d.YawCur)*z2
	y3 := y2
	z3 := -math.Sin(d.YawCur)*x2 + math.Cos(d.YawCur)*z2

	x4 := d.cosYawStart*x3 - d.sinYawStart*z3
	y4 := y3
	z4 := d.sinYawStart*x3 + d.cosYawStart*z3

	x5 := x4
	y5 := d.cosPitchStart*y4 + d.sinPitchStart*z4
	z5 := -d.sinPitchStart*y4 + d.cosPitchStart*z4

	p.X = d.cosRollStart*x5 + d.sinRollStart*y5 + d.ShiftFromStartCur.X
	p.Y = -d.sinRollStart*x5 + d.cosRollStart*y5 + d.ShiftFromStartCur.Y
	p.Z = z5 + d.ShiftFromStartCur.Z
}

// interpolateAt advances the ring cursor to the pair of samples straddling
// pointTime and interpolates attitude, velocity and shift. When no sample is
// newer than the point, the latest sample is used as-is.
func (d *Deskewer) interpolateAt(pointTime float64) {
	b := d.buf

	d.pointerFront = d.pointerLastIteration
	for d.pointerFront != b.pointerLast {
		if pointTime < b.time[d.pointerFront] {
			break
		}
		d.pointerFront = (d.pointerFront + 1) % b.queLength
	}

	if pointTime > b.time[d.pointerFront] {
		d.RollCur = b.roll[d.pointerFront]
		d.PitchCur = b.pitch[d.pointerFront]
		d.YawCur = b.yaw[d.pointerFront]
		d.VeloCur = b.velo[d.pointerFront]
		d.ShiftCur = b.shift[d.pointerFront]
		return
	}

	back := (d.pointerFront + b.queLength - 1) % b.queLength
	span := b.time[d.pointerFront] - b.time[back]
	ratioFront := (pointTime - b.time[back]) / span
	ratioBack := (b.time[d.pointerFront] - pointTime) / span

	d.RollCur = b.roll[d.pointerFront]*ratioFront + b.roll[back]*ratioBack
	d.PitchCur = b.pitch[d.pointerFront]*ratioFront + b.pitch[back]*ratioBack
	// Yaw interpolates across the +-pi seam by unwrapping the older sample.
	switch {
	case b.yaw[d.pointerFront]-b.yaw[back] > math.Pi:
		d.YawCur = b.yaw[d.pointerFront]*ratioFront + (b.yaw[back]+2*math.Pi)*ratioBack
	case b.yaw[d.pointerFront]-b.yaw[back] < -math.Pi:
		d.YawCur = b.yaw[d.pointerFront]*ratioFront + (b.yaw[back]-2*math.Pi)*ratioBack
	default:
		d.YawCur = b.yaw[d.pointerFront]*ratioFront + b.yaw[back]*ratioBack
	}

	d.VeloCur = b.velo[d.pointerFront].Scale(ratioFront).Add(b.velo[back].Scale(ratioBack))
	d.ShiftCur = b.shift[d.pointerFront].Scale(ratioFront).Add(b.shift[back].Scale(ratioBack))
}

// interpolateAngularRotationAt mirrors interpolateAt for the integrated
// angular rotation, used only at the first point of a scan.
func (d *Deskewer) interpolateAngularRotationAt(pointTime float64) {
	b := d.buf

	if pointTime > b.time[d.pointerFront] {
		d.AngularRotationCur = b.angularRotation[d.pointerFront]
		return
	}

	back := (d.pointerFront + b.queLength - 1) % b.queLength
	span := b.time[d.pointerFront] - b.time[back]
	ratioFront := (pointTime - b.time[back]) / span
	ratioBack := (b.time[d.pointerFront] - pointTime) / span

	d.AngularRotationCur = b.angularRotation[d.pointerFront].Scale(ratioFront).
		Add(b.angularRotation[back].Scale(ratioBack))
}

// AdjustDistortion remaps the segmented cloud into the camera-like frame,
// re-tags each point with its relative acquisition time, and motion
// compensates every point into the scan-start frame using interpolated IMU
// samples. Must be called with the buffer locked.
func (d *Deskewer) AdjustDistortion(cloud lidar.PointCloud, seg *rangeimage.SegInfo, timeScanCur float64) {
	b := d.buf
	halfPassed := false

	for i := range cloud {
		point := lidar.Point{
			X:         cloud[i].Y,
			Y:         cloud[i].Z,
			Z:         cloud[i].X,
			Intensity: cloud[i].Intensity,
		}

		ori := -math.Atan2(point.X, point.Z)
		if !halfPassed {
			if ori < seg.StartOrientation-math.Pi/2 {
				ori += 2 * math.Pi
			} else if ori > seg.StartOrientation+math.Pi*3/2 {
				ori -= 2 * math.Pi
			}
			if ori-seg.StartOrientation > math.Pi {
				halfPassed = true
			}
		} else {
			ori += 2 * math.Pi
			if ori < seg.EndOrientation-math.Pi*3/2 {
				ori += 2 * math.Pi
			} else if ori > seg.EndOrientation+math.Pi/2 {
				ori -= 2 * math.Pi
			}
		}

		relTime := (ori - seg.StartOrientation) / seg.OrientationDiff
		point.Intensity = float64(int(cloud[i].Intensity)) + d.scanPeriod*relTime

		if b.pointerLast >= 0 {
			pointTime := relTime * d.scanPeriod
			d.interpolateAt(timeScanCur + pointTime)

			if i == 0 {
				d.RollStart = d.RollCur
				d.PitchStart = d.PitchCur
				d.YawStart = d.YawCur
				d.VeloStart = d.VeloCur
				d.ShiftStart = d.ShiftCur

				d.interpolateAngularRotationAt(timeScanCur + pointTime)

				d.AngularFromStart = d.AngularRotationCur.Sub(d.AngularRotationLast)
				d.AngularRotationLast = d.AngularRotationCur

				d.UpdateStartSinCos()
			} else {
				d.shiftToStartIMU(pointTime)
				d.veloToStartIMU()
				d.transformToStartIMU(&point)
			}
		}
		cloud[i] = point
	}

	d.pointerLastIteration = b.pointerLast
}

// CommitScan freezes the current-scan interpolants as the "last" values the
// next scan's end-frame warp and rotation plug-in read.
func (d *Deskewer) CommitScan() {
	d.RollLast = d.RollCur
	d.PitchLast = d.PitchCur
	d.YawLast = d.YawCur

	d.ShiftFromStart = d.ShiftFromStartCur
	d.VeloFromStart = d.VeloFromStartCur
}

// StartSinCos exposes the cached start-attitude trigonometry for the
// end-frame warp in the odometry stage.
func (d *Deskewer) StartSinCos() (cosRoll, sinRoll, cosPitch, sinPitch, cosYaw, sinYaw float64) {
	return d.cosRollStart, d.sinRollStart, d.cosPitchStart, d.sinPitchStart, d.cosYawStart, d.sinYawStart
}
