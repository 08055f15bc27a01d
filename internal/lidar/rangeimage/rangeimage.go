// Package rangeimage organises unordered LiDAR returns into a structured
// (ring x azimuth) range image, separates ground from non-ground, clusters
// the remaining returns with a geometric angle test, and emits the segmented
// cloud consumed by feature association.
package rangeimage

import (
	"math"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// Label value assigned to clusters rejected by the validity test.
const labelRejected = 999999

// SegInfo describes one scan's segmented cloud. Entry k of each per-point
// slice refers to the k-th point of the segmented cloud.
type SegInfo struct {
	// Azimuth of the first and last return, with the unwrap offset applied so
	// that EndOrientation - StartOrientation lies in (pi, 3*pi).
	StartOrientation float64
	EndOrientation   float64
	OrientationDiff  float64

	// Per-ring window into the flattened segmented cloud, inset by 5 points
	// on each side so the smoothness stencil never reads across a ring.
	StartRingIndex []int
	EndRingIndex   []int

	SegmentedCloudGroundFlag []bool
	SegmentedCloudColInd     []int
	SegmentedCloudRange      []float64
}

// ProjectionOut is the owned bundle handed to the association stage.
type ProjectionOut struct {
	SegmentedCloud lidar.PointCloud
	OutlierCloud   lidar.PointCloud
	SegInfo        SegInfo
	ScanTime       time.Time
}

// Projector builds the range image for one scan at a time. All working
// buffers are reused across scans; Reset reinitialises them at the start of
// each scan.
type Projector struct {
	params lidar.ScanParams

	rangeMat  []float64 // +Inf where no return
	groundMat []int8    // -1 invalid, 0 non-ground, 1 ground
	labelMat  []int32   // 0 unlabeled, -1 ineligible, >=1 cluster id, labelRejected

	fullCloud     lidar.PointCloud // point at (row,col) or the invalid marker
	fullInfoCloud lidar.PointCloud // same, intensity replaced by range

	groundCloud        lidar.PointCloud
	segmentedCloud     lidar.PointCloud
	segmentedCloudPure lidar.PointCloud
	outlierCloud       lidar.PointCloud

	segInfo    SegInfo
	labelCount int32

	// BFS scratch, sized once for the whole image.
	queue         []coord
	allPushed     []coord
	lineCountFlag []bool
}

type coord struct {
	row, col int
}

// NewProjector allocates a projector for the given scan geometry.
func NewProjector(params lidar.ScanParams) *Projector {
	size := params.CloudSize()
	p := &Projector{
		params:        params,
		rangeMat:      make([]float64, size),
		groundMat:     make([]int8, size),
		labelMat:      make([]int32, size),
		fullCloud:     make(lidar.PointCloud, size),
		fullInfoCloud: make(lidar.PointCloud, size),
		queue:         make([]coord, 0, size),
		allPushed:     make([]coord, 0, size),
		lineCountFlag: make([]bool, params.NScan),
	}
	p.segInfo.StartRingIndex = make([]int, params.NScan)
	p.segInfo.EndRingIndex = make([]int, params.NScan)
	p.segInfo.SegmentedCloudGroundFlag = make([]bool, 0, size)
	p.segInfo.SegmentedCloudColInd = make([]int, 0, size)
	p.segInfo.SegmentedCloudRange = make([]float64, 0, size)
	return p
}

// invalidPoint marks an empty range-image cell. The intensity of -1 is what
// the ground test checks for missing returns.
var invalidPoint = lidar.Point{
	X: math.NaN(), Y: math.NaN(), Z: math.NaN(), Intensity: -1,
}

// Reset reinitialises all per-scan state.
func (p *Projector) Reset() {
	for i := range p.rangeMat {
		p.rangeMat[i] = math.Inf(1)
		p.groundMat[i] = 0
		p.labelMat[i] = 0
		p.fullCloud[i] = invalidPoint
		p.fullInfoCloud[i] = invalidPoint
	}
	p.groundCloud.Reset()
	p.segmentedCloud.Reset()
	p.segmentedCloudPure.Reset()
	p.outlierCloud.Reset()
	p.labelCount = 1

	for i := range p.segInfo.StartRingIndex {
		p.segInfo.StartRingIndex[i] = 0
		p.segInfo.EndRingIndex[i] = 0
	}
	p.segInfo.SegmentedCloudGroundFlag = p.segInfo.SegmentedCloudGroundFlag[:0]
	p.segInfo.SegmentedCloudColInd = p.segInfo.SegmentedCloudColInd[:0]
	p.segInfo.SegmentedCloudRange = p.segInfo.SegmentedCloudRange[:0]
}

// Process runs one scan through projection, ground removal and segmentation,
// returning an owned bundle for the association stage. NaN returns must have
// been removed by the caller.
func (p *Projector) Process(cloud lidar.PointCloud, scanTime time.Time) ProjectionOut {
	p.Reset()
	if len(cloud) > 0 {
		p.findStartEndAngle(cloud)
		p.projectPointCloud(cloud)
	}
	p.groundRemoval()
	p.cloudSegmentation()

	out := ProjectionOut{
		SegmentedCloud: p.segmentedCloud.Clone(),
		OutlierCloud:   p.outlierCloud.Clone(),
		ScanTime:       scanTime,
	}
	out.SegInfo = SegInfo{
		StartOrientation: p.segInfo.StartOrientation,
		EndOrientation:   p.segInfo.EndOrientation,
		OrientationDiff:  p.segInfo.OrientationDiff,
		StartRingIndex:   append([]int(nil), p.segInfo.StartRingIndex...),
		EndRingIndex:     append([]int(nil), p.segInfo.EndRingIndex...),
	}
	out.SegInfo.SegmentedCloudGroundFlag = append([]bool(nil), p.segInfo.SegmentedCloudGroundFlag...)
	out.SegInfo.SegmentedCloudColInd = append([]int(nil), p.segInfo.SegmentedCloudColInd...)
	out.SegInfo.SegmentedCloudRange = append([]float64(nil), p.segInfo.SegmentedCloudRange...)
	return out
}

// GroundCloud returns the ground returns of the last processed scan.
// Valid until the next call to Process.
func (p *Projector) GroundCloud() lidar.PointCloud { return p.groundCloud }

// SegmentedCloudPure returns the clustered non-ground returns of the last
// scan with the cluster id stored in intensity. Valid until the next Process.
func (p *Projector) SegmentedCloudPure() lidar.PointCloud { return p.segmentedCloudPure }

// FullCloud returns the dense range image cloud of the last processed scan.
func (p *Projector) FullCloud() lidar.PointCloud { return p.fullCloud }

// FullInfoCloud returns the dense cloud with range stored in intensity.
func (p *Projector) FullInfoCloud() lidar.PointCloud { return p.fullInfoCloud }

// LabelCount returns one past the highest cluster id assigned in the last scan.
func (p *Projector) LabelCount() int { return int(p.labelCount) }

// RangeAt returns the projected range at (row, col).
func (p *Projector) RangeAt(row, col int) float64 {
	return p.rangeMat[col+row*p.params.HorizontalScan]
}

// LabelAt returns the segmentation label at (row, col).
func (p *Projector) LabelAt(row, col int) int32 {
	return p.labelMat[col+row*p.params.HorizontalScan]
}

// GroundAt returns the ground flag at (row, col).
func (p *Projector) GroundAt(row, col int) int8 {
	return p.groundMat[col+row*p.params.HorizontalScan]
}

func (p *Projector) findStartEndAngle(cloud lidar.PointCloud) {
	first := cloud[0]
	last := cloud[len(cloud)-1]

	p.segInfo.StartOrientation = -math.Atan2(first.Y, first.X)
	p.segInfo.EndOrientation = -math.Atan2(last.Y, last.X) + 2*math.Pi

	if p.segInfo.EndOrientation-p.segInfo.StartOrientation > 3*math.Pi {
		p.segInfo.EndOrientation -= 2 * math.Pi
	} else if p.segInfo.EndOrientation-p.segInfo.StartOrientation < math.Pi {
		p.segInfo.EndOrientation += 2 * math.Pi
	}
	p.segInfo.OrientationDiff = p.segInfo.EndOrientation - p.segInfo.StartOrientation
}

func (p *Projector) projectPointCloud(cloud lidar.PointCloud) {
	nScan := p.params.NScan
	hScan := p.params.HorizontalScan

	for _, pt := range cloud {
		r := pt.Range()

		verticalAngle := math.Asin(pt.Z / r)
		rowIdn := int((verticalAngle + p.params.AngBottom) / p.params.AngResY)
		if rowIdn < 0 || rowIdn >= nScan {
			continue
		}

		horizonAngle := math.Atan2(pt.X, pt.Y)
		columnIdn := -int(math.Round((horizonAngle-math.Pi/2)/p.params.AngResX)) + hScan/2
		if columnIdn >= hScan {
			columnIdn -= hScan
		}
		if columnIdn < 0 || columnIdn >= hScan {
			continue
		}

		if r < 0.1 {
			continue
		}

		idx := columnIdn + rowIdn*hScan
		p.rangeMat[idx] = r

		tagged := pt
		tagged.Intensity = float64(rowIdn) + float64(columnIdn)/10000.0
		p.fullCloud[idx] = tagged

		info := tagged
		info.Intensity = r
		p.fullInfoCloud[idx] = info
	}
}

func (p *Projector) groundRemoval() {
	hScan := p.params.HorizontalScan

	// Pairwise vertical-angle test between adjacent rings.
	for j := 0; j < hScan; j++ {
		for i := 0; i < p.params.GroundScanInd; i++ {
			lowerInd := j + i*hScan
			upperInd := j + (i+1)*hScan

			if p.fullCloud[lowerInd].Intensity == -1 || p.fullCloud[upperInd].Intensity == -1 {
				p.groundMat[j+i*hScan] = -1
				continue
			}

			dX := p.fullCloud[upperInd].X - p.fullCloud[lowerInd].X
			dY := p.fullCloud[upperInd].Y - p.fullCloud[lowerInd].Y
			dZ := p.fullCloud[upperInd].Z - p.fullCloud[lowerInd].Z

			verticalAngle := math.Atan2(dZ, math.Sqrt(dX*dX+dY*dY+dZ*dZ))

			if verticalAngle-p.params.SensorMountAngle <= 10*lidar.DegToRad {
				p.groundMat[j+i*hScan] = 1
				p.groundMat[j+(i+1)*hScan] = 1
			}
		}
	}

	// Ground and empty cells are ineligible for segmentation.
	for idx := range p.labelMat {
		if p.groundMat[idx] == 1 || math.IsInf(p.rangeMat[idx], 1) {
			p.labelMat[idx] = -1
		}
	}

	for i := 0; i <= p.params.GroundScanInd; i++ {
		for j := 0; j < hScan; j++ {
			if p.groundMat[j+i*hScan] == 1 {
				p.groundCloud.Append(p.fullCloud[j+i*hScan])
			}
		}
	}
}

func (p *Projector) cloudSegmentation() {
	nScan := p.params.NScan
	hScan := p.params.HorizontalScan

	for i := 0; i < nScan; i++ {
		for j := 0; j < hScan; j++ {
			if p.labelMat[j+i*hScan] == 0 {
				p.labelComponents(i, j)
			}
		}
	}

	sizeOfSegCloud := 0
	for i := 0; i < nScan; i++ {
		p.segInfo.StartRingIndex[i] = sizeOfSegCloud - 1 + 5

		for j := 0; j < hScan; j++ {
			idx := j + i*hScan
			if p.labelMat[idx] > 0 || p.groundMat[idx] == 1 {
				// Rejected clusters feed the outlier cloud at reduced rate
				// and never the segmented cloud.
				if p.labelMat[idx] == labelRejected {
					if i > p.params.GroundScanInd && j%5 == 0 {
						p.outlierCloud.Append(p.fullCloud[idx])
					}
					continue
				}
				// The majority of ground points are skipped.
				if p.groundMat[idx] == 1 {
					if j%5 != 0 && j > 5 && j < hScan-5 {
						continue
					}
				}
				p.segInfo.SegmentedCloudGroundFlag = append(p.segInfo.SegmentedCloudGroundFlag, p.groundMat[idx] == 1)
				p.segInfo.SegmentedCloudColInd = append(p.segInfo.SegmentedCloudColInd, j)
				p.segInfo.SegmentedCloudRange = append(p.segInfo.SegmentedCloudRange, p.rangeMat[idx])
				p.segmentedCloud.Append(p.fullCloud[idx])
				sizeOfSegCloud++
			}
		}

		p.segInfo.EndRingIndex[i] = sizeOfSegCloud - 1 - 5
	}

	// Clustered cloud with cluster ids, for the monitor.
	for i := 0; i < nScan; i++ {
		for j := 0; j < hScan; j++ {
			idx := j + i*hScan
			if p.labelMat[idx] > 0 && p.labelMat[idx] != labelRejected {
				pt := p.fullCloud[idx]
				pt.Intensity = float64(p.labelMat[idx])
				p.segmentedCloudPure.Append(pt)
			}
		}
	}
}

// labelComponents grows a cluster from (row, col) with a BFS over the
// 4-connected neighbourhood. Columns wrap around the image; rows do not.
// Two neighbouring returns join the same cluster when the angle subtended at
// the farther return exceeds SegmentTheta.
func (p *Projector) labelComponents(row, col int) {
	nScan := p.params.NScan
	hScan := p.params.HorizontalScan
	thetaThreshold := math.Tan(p.params.SegmentTheta)

	for i := range p.lineCountFlag {
		p.lineCountFlag[i] = false
	}
	p.queue = p.queue[:0]
	p.allPushed = p.allPushed[:0]

	p.queue = append(p.queue, coord{row, col})
	p.allPushed = append(p.allPushed, coord{row, col})

	neighbors := [4]coord{{0, -1}, {-1, 0}, {1, 0}, {0, 1}}

	for len(p.queue) > 0 {
		from := p.queue[0]
		p.queue = p.queue[1:]

		p.labelMat[from.col+from.row*hScan] = p.labelCount

		for _, n := range neighbors {
			thisRow := from.row + n.row
			thisCol := from.col + n.col
			if thisRow < 0 || thisRow >= nScan {
				continue
			}
			if thisCol < 0 {
				thisCol = hScan - 1
			}
			if thisCol >= hScan {
				thisCol = 0
			}
			if p.labelMat[thisCol+thisRow*hScan] != 0 {
				continue
			}

			rFrom := p.rangeMat[from.col+from.row*hScan]
			rTo := p.rangeMat[thisCol+thisRow*hScan]
			d1 := math.Max(rFrom, rTo)
			d2 := math.Min(rFrom, rTo)

			alpha := p.params.SegmentAlphaX
			if n.row != 0 {
				alpha = p.params.SegmentAlphaY
			}
			tang := d2 * math.Sin(alpha) / (d1 - d2*math.Cos(alpha))

			if tang > thetaThreshold {
				p.queue = append(p.queue, coord{thisRow, thisCol})
				p.labelMat[thisCol+thisRow*hScan] = p.labelCount
				p.lineCountFlag[thisRow] = true
				p.allPushed = append(p.allPushed, coord{thisRow, thisCol})
			}
		}
	}

	feasible := false
	if len(p.allPushed) >= 30 {
		feasible = true
	} else if len(p.allPushed) >= p.params.SegmentValidPointNum {
		lineCount := 0
		for _, touched := range p.lineCountFlag {
			if touched {
				lineCount++
			}
		}
		if lineCount >= p.params.SegmentValidLineNum {
			feasible = true
		}
	}

	if feasible {
		p.labelCount++
	} else {
		for _, c := range p.allPushed {
			p.labelMat[c.col+c.row*hScan] = labelRejected
		}
	}
}
