package odometry

import (
	"math"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/features"
	"github.com/banshee-data/odometry.report/internal/lidar/imu"
	"gonum.org/v1/gonum/mat"
)

// Feature-count floor below which the nonlinear solve is skipped for a scan.
const (
	minCornerLastPoints = 10
	minSurfLastPoints   = 100
)

// Pose is the odometry output for one scan. The orientation carries the
// documented axis-swap convention expected by the mapping stage.
type Pose struct {
	Time        time.Time
	Position    lidar.Vec3
	Orientation lidar.Quaternion
	Transform   [6]float64
	Degenerate  bool
}

// Estimator owns the scan-to-scan association state: the incremental and
// accumulated transforms, the previous scan's feature clouds with their
// KD-trees, and the residual buffers of the iterative solve.
type Estimator struct {
	params lidar.ScanParams
	dsk    *imu.Deskewer

	// transformCur is the increment from previous scan end to current scan
	// end as (rx, ry, rz, tx, ty, tz); transformSum is the accumulated
	// global pose in the same convention.
	TransformCur [6]float64
	TransformSum [6]float64

	isDegenerate bool
	matP         *mat.Dense

	CornerLast lidar.PointCloud
	SurfLast   lidar.PointCloud

	kdtreeCornerLast *featureTree
	kdtreeSurfLast   *featureTree

	laserCloudOri lidar.PointCloud
	coeffSel      lidar.PointCloud

	pointSearchCornerInd1 []int
	pointSearchCornerInd2 []int
	pointSearchSurfInd1   []int
	pointSearchSurfInd2   []int
	pointSearchSurfInd3   []int

	systemInited bool
}

// NewEstimator creates an estimator bound to the deskewer whose per-scan
// IMU interpolants seed the initial guess and close the end-frame warp.
func NewEstimator(params lidar.ScanParams, dsk *imu.Deskewer) *Estimator {
	size := params.CloudSize()
	return &Estimator{
		params:                params,
		dsk:                   dsk,
		pointSearchCornerInd1: make([]int, size),
		pointSearchCornerInd2: make([]int, size),
		pointSearchSurfInd1:   make([]int, size),
		pointSearchSurfInd2:   make([]int, size),
		pointSearchSurfInd3:   make([]int, size),
	}
}

// Initialized reports whether the bootstrap scan has been consumed.
func (e *Estimator) Initialized() bool { return e.systemInited }

// Degenerate reports whether the most recent solve hit a degenerate
// direction.
func (e *Estimator) Degenerate() bool { return e.isDegenerate }

// CheckSystemInitialization consumes the first scan: the less-strict feature
// buckets become the association targets for the next scan, the KD-trees are
// built, and the global pose is seeded from the IMU attitude at scan start.
// No association happens on the bootstrap scan.
func (e *Estimator) CheckSystemInitialization(extr *features.Extractor) {
	e.CornerLast, extr.CornerLessSharp = extr.CornerLessSharp, e.CornerLast
	e.SurfLast, extr.SurfLessFlat = extr.SurfLessFlat, e.SurfLast

	e.kdtreeCornerLast = buildFeatureTree(e.CornerLast)
	e.kdtreeSurfLast = buildFeatureTree(e.SurfLast)

	e.TransformSum[0] += e.dsk.PitchStart
	e.TransformSum[2] += e.dsk.RollStart

	e.systemInited = true
}

// UpdateInitialGuess freezes the scan-end IMU interpolants and seeds the
// increment from the IMU-observed rotation and velocity over the scan.
func (e *Estimator) UpdateInitialGuess() {
	e.dsk.CommitScan()

	angular := e.dsk.AngularFromStart
	if !angular.IsZero() {
		e.TransformCur[0] = -angular.Y
		e.TransformCur[1] = -angular.Z
		e.TransformCur[2] = -angular.X
	}

	velo := e.dsk.VeloFromStart
	if !velo.IsZero() {
		e.TransformCur[3] -= velo.X * e.params.ScanPeriod
		e.TransformCur[4] -= velo.Y * e.params.ScanPeriod
		e.TransformCur[5] -= velo.Z * e.params.ScanPeriod
	}
}

// UpdateTransformation runs the two-pass iteration: up to 25 surface-only
// iterations, then up to 25 corner-only iterations. Scans with too few
// association targets are skipped entirely.
func (e *Estimator) UpdateTransformation(extr *features.Extractor) {
	if len(e.CornerLast) < minCornerLastPoints || len(e.SurfLast) < minSurfLastPoints {
		return
	}

	for iterCount1 := 0; iterCount1 < 25; iterCount1++ {
		e.laserCloudOri.Reset()
		e.coeffSel.Reset()

		e.findCorrespondingSurfFeatures(extr.SurfFlat, iterCount1)

		if len(e.laserCloudOri) < 10 {
			continue
		}
		if !e.calculateTransformationSurf(iterCount1) {
			break
		}
	}

	for iterCount2 := 0; iterCount2 < 25; iterCount2++ {
		e.laserCloudOri.Reset()
		e.coeffSel.Reset()

		e.findCorrespondingCornerFeatures(extr.CornerSharp, iterCount2)

		if len(e.laserCloudOri) < 10 {
			continue
		}
		if !e.calculateTransformationCorner(iterCount2) {
			break
		}
	}
}

// IntegrateTransformation composes the accepted per-scan increment into the
// global pose and folds in the IMU rotation observed across the scan.
func (e *Estimator) IntegrateTransformation() {
	rx, ry, rz := accumulateRotation(
		e.TransformSum[0], e.TransformSum[1], e.TransformSum[2],
		-e.TransformCur[0], -e.TransformCur[1], -e.TransformCur[2])

	shift := e.dsk.ShiftFromStart

	x1 := math.Cos(rz)*(e.TransformCur[3]-shift.X) - math.Sin(rz)*(e.TransformCur[4]-shift.Y)
	y1 := math.Sin(rz)*(e.TransformCur[3]-shift.X) + math.Cos(rz)*(e.TransformCur[4]-shift.Y)
	z1 := e.TransformCur[5] - shift.Z

	x2 := x1
	y2 := math.Cos(rx)*y1 - math.Sin(rx)*z1
	z2 := math.Sin(rx)*y1 + math.Cos(rx)*z1

	tx := e.TransformSum[3] - (math.Cos(ry)*x2 + math.Sin(ry)*z2)
	ty := e.TransformSum[4] - y2
	tz := e.TransformSum[5] - (-math.Sin(ry)*x2 + math.Cos(ry)*z2)

	rx, ry, rz = pluginIMURotation(rx, ry, rz,
		e.dsk.PitchStart, e.dsk.YawStart, e.dsk.RollStart,
		e.dsk.PitchLast, e.dsk.YawLast, e.dsk.RollLast)

	e.TransformSum[0] = rx
	e.TransformSum[1] = ry
	e.TransformSum[2] = rz
	e.TransformSum[3] = tx
	e.TransformSum[4] = ty
	e.TransformSum[5] = tz
}

// Odometry renders the accumulated pose with the axis-swap quaternion
// convention the mapping stage decodes.
func (e *Estimator) Odometry(scanTime time.Time) Pose {
	q := lidar.QuaternionFromRPY(e.TransformSum[2], -e.TransformSum[0], -e.TransformSum[1])
	return Pose{
		Time:     scanTime,
		Position: lidar.Vec3{X: e.TransformSum[3], Y: e.TransformSum[4], Z: e.TransformSum[5]},
		Orientation: lidar.Quaternion{
			X: -q.Y,
			Y: -q.Z,
			Z: q.X,
			W: q.W,
		},
		Transform:  e.TransformSum,
		Degenerate: e.isDegenerate,
	}
}

// PublishCloudsLast warps the less-sharp and less-flat clouds into the
// scan-end frame, swaps them into the association targets for the next scan,
// and rebuilds the KD-trees when both targets are populous enough. The
// outlier cloud receives its axis remap here; the mapping sink expects the
// twice-remapped frame.
func (e *Estimator) PublishCloudsLast(extr *features.Extractor, outlierCloud lidar.PointCloud) {
	e.dsk.UpdateStartSinCos()

	for i := range extr.CornerLessSharp {
		extr.CornerLessSharp[i] = e.transformToEnd(extr.CornerLessSharp[i])
	}
	for i := range extr.SurfLessFlat {
		extr.SurfLessFlat[i] = e.transformToEnd(extr.SurfLessFlat[i])
	}

	e.CornerLast, extr.CornerLessSharp = extr.CornerLessSharp, e.CornerLast
	e.SurfLast, extr.SurfLessFlat = extr.SurfLessFlat, e.SurfLast

	if len(e.CornerLast) > minCornerLastPoints && len(e.SurfLast) > minSurfLastPoints {
		e.kdtreeCornerLast = buildFeatureTree(e.CornerLast)
		e.kdtreeSurfLast = buildFeatureTree(e.SurfLast)
	}

	adjustOutlierCloud(outlierCloud)
}

// adjustOutlierCloud applies the (y,z,x) axis remap to the outlier cloud a
// second time after projection already normalised coordinates. Downstream
// mapping depends on this frame; do not remove.
func adjustOutlierCloud(cloud lidar.PointCloud) {
	for i := range cloud {
		cloud[i] = lidar.Point{
			X:         cloud[i].Y,
			Y:         cloud[i].Z,
			Z:         cloud[i].X,
			Intensity: cloud[i].Intensity,
		}
	}
}
