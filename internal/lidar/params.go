package lidar

import "math"

// DegToRad converts degrees to radians.
const DegToRad = math.Pi / 180.0

// RadToDeg converts radians to degrees.
const RadToDeg = 180.0 / math.Pi

// ScanParams holds the scan geometry and tuning constants for one sensor.
// All angular fields are stored in radians; the tuning-file loader converts
// from the degree values used in configuration. Parameters are read once at
// startup and never mutated at runtime.
type ScanParams struct {
	// Vertical beam count (rows in the range image).
	NScan int
	// Azimuth bins per revolution (columns in the range image).
	HorizontalScan int

	// Angular resolution of the range image (radians).
	AngResX float64
	AngResY float64
	// Vertical angle of the lowest beam below horizontal (radians).
	AngBottom float64
	// Highest row index that may contain ground returns.
	GroundScanInd int

	// Seconds per full revolution.
	ScanPeriod float64
	// Mounting tilt of the sensor relative to the vehicle (radians).
	SensorMountAngle float64

	// Segmentation angle threshold and per-axis step angles (radians).
	SegmentTheta  float64
	SegmentAlphaX float64
	SegmentAlphaY float64
	// Cluster validity: minimum points, and minimum distinct rows for
	// clusters smaller than 30 points.
	SegmentValidPointNum int
	SegmentValidLineNum  int

	// Feature classification thresholds on squared curvature.
	EdgeThreshold float64
	SurfThreshold float64

	// Correspondence gate: maximum squared distance for a nearest-neighbour
	// match against the previous scan's features.
	NearestFeatureSearchSqDist float64

	// Forward every Nth scan to the mapping sink.
	MappingFrequencyDivider int

	// IMU ring buffer capacity.
	ImuQueLength int

	// Voxel leaf size for the less-flat surface downsample (metres).
	SurfLeafSize float64
}

// VLP16Params returns the canonical parameter set for a 16-beam,
// 1800-column rotating scanner spinning at 10 Hz.
func VLP16Params() ScanParams {
	// Degrees are converted at run time, exactly as the tuning-file loader
	// converts them, so both paths yield bit-identical radians.
	deg := func(d float64) float64 { return d * DegToRad }
	return ScanParams{
		NScan:          16,
		HorizontalScan: 1800,
		AngResX:        deg(0.2),
		AngResY:        deg(2.0),
		AngBottom:      deg(15.1),
		GroundScanInd:  7,

		ScanPeriod:       0.1,
		SensorMountAngle: 0,

		SegmentTheta:         deg(60.0),
		SegmentAlphaX:        deg(0.2),
		SegmentAlphaY:        deg(2.0),
		SegmentValidPointNum: 5,
		SegmentValidLineNum:  3,

		EdgeThreshold: 0.1,
		SurfThreshold: 0.1,

		NearestFeatureSearchSqDist: 25,

		MappingFrequencyDivider: 5,

		ImuQueLength: 200,

		SurfLeafSize: 0.2,
	}
}

// CloudSize returns the number of cells in the range image.
func (p ScanParams) CloudSize() int {
	return p.NScan * p.HorizontalScan
}
