// Package features computes per-point smoothness over the segmented cloud
// and classifies points into sharp corners, less-sharp corners, flat surface
// points and less-flat surface points. Ground points only ever become
// surface features; non-ground points only ever become corners.
package features

import (
	"math"
	"sort"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/rangeimage"
)

type smoothness struct {
	value float64
	ind   int
}

// Extractor classifies one scan at a time. Scratch buffers are reused; the
// output clouds are reset at the start of each Run.
type Extractor struct {
	params lidar.ScanParams

	curvature      []float64
	neighborPicked []int
	label          []int
	cloudSmooth    []smoothness

	CornerSharp     lidar.PointCloud
	CornerLessSharp lidar.PointCloud
	SurfFlat        lidar.PointCloud
	SurfLessFlat    lidar.PointCloud

	lessFlatScan lidar.PointCloud
}

// NewExtractor allocates an extractor for the given scan geometry.
func NewExtractor(params lidar.ScanParams) *Extractor {
	size := params.CloudSize()
	return &Extractor{
		params:         params,
		curvature:      make([]float64, size),
		neighborPicked: make([]int, size),
		label:          make([]int, size),
		cloudSmooth:    make([]smoothness, size),
	}
}

// Run computes smoothness, masks occluded points and extracts the four
// feature tiers from a deskewed segmented cloud.
func (e *Extractor) Run(cloud lidar.PointCloud, seg *rangeimage.SegInfo) {
	e.calculateSmoothness(cloud, seg)
	e.markOccludedPoints(cloud, seg)
	e.extractFeatures(cloud, seg)
}

// calculateSmoothness evaluates the 11-point range stencil around each
// interior point. Curvature is the squared stencil response.
func (e *Extractor) calculateSmoothness(cloud lidar.PointCloud, seg *rangeimage.SegInfo) {
	cloudSize := len(cloud)

	// The stencil never covers the outermost 5 points of the scan, but the
	// first ring's sector window can still reach one of them; keep those
	// slots pointing at their own index so a stale entry from the previous
	// scan cannot leak through the sort.
	resetBoundary := func(i int) {
		e.curvature[i] = 0
		e.neighborPicked[i] = 1
		e.label[i] = 0
		e.cloudSmooth[i] = smoothness{value: 0, ind: i}
	}
	for i := 0; i < cloudSize && i < 5; i++ {
		resetBoundary(i)
	}
	for i := cloudSize - 5; i < cloudSize; i++ {
		if i >= 5 {
			resetBoundary(i)
		}
	}

	for i := 5; i < cloudSize-5; i++ {
		diffRange := seg.SegmentedCloudRange[i-5] +
			seg.SegmentedCloudRange[i-4] +
			seg.SegmentedCloudRange[i-3] +
			seg.SegmentedCloudRange[i-2] +
			seg.SegmentedCloudRange[i-1] -
			seg.SegmentedCloudRange[i]*10 +
			seg.SegmentedCloudRange[i+1] +
			seg.SegmentedCloudRange[i+2] +
			seg.SegmentedCloudRange[i+3] +
			seg.SegmentedCloudRange[i+4] +
			seg.SegmentedCloudRange[i+5]

		e.curvature[i] = diffRange * diffRange

		e.neighborPicked[i] = 0
		e.label[i] = 0

		e.cloudSmooth[i] = smoothness{value: e.curvature[i], ind: i}
	}
}

// markOccludedPoints suppresses points on the near side of an occlusion
// boundary and points whose range jumps on both sides (likely beam
// grazing).
func (e *Extractor) markOccludedPoints(cloud lidar.PointCloud, seg *rangeimage.SegInfo) {
	cloudSize := len(cloud)

	for i := 5; i < cloudSize-6; i++ {
		depth1 := seg.SegmentedCloudRange[i]
		depth2 := seg.SegmentedCloudRange[i+1]
		columnDiff := abs(seg.SegmentedCloudColInd[i+1] - seg.SegmentedCloudColInd[i])

		if columnDiff < 10 {
			if depth1-depth2 > 0.3 {
				for k := i - 5; k <= i; k++ {
					e.neighborPicked[k] = 1
				}
			} else if depth2-depth1 > 0.3 {
				for k := i + 1; k <= i+6; k++ {
					e.neighborPicked[k] = 1
				}
			}
		}

		diff1 := math.Abs(seg.SegmentedCloudRange[i-1] - seg.SegmentedCloudRange[i])
		diff2 := math.Abs(seg.SegmentedCloudRange[i+1] - seg.SegmentedCloudRange[i])

		if diff1 > 0.02*seg.SegmentedCloudRange[i] && diff2 > 0.02*seg.SegmentedCloudRange[i] {
			e.neighborPicked[i] = 1
		}
	}
}

// extractFeatures walks each ring in 6 azimuthal sectors, taking the highest
// curvature non-ground points as corners (2 sharp, up to 20 less sharp) and
// the lowest curvature ground points as flat surfaces (up to 4), suppressing
// the +-5 neighbourhood of every pick. Everything not labelled a corner
// accumulates into the per-ring less-flat cloud, which is voxel downsampled
// before joining the scan-level bucket.
func (e *Extractor) extractFeatures(cloud lidar.PointCloud, seg *rangeimage.SegInfo) {
	e.CornerSharp.Reset()
	e.CornerLessSharp.Reset()
	e.SurfFlat.Reset()
	e.SurfLessFlat.Reset()

	for i := 0; i < e.params.NScan; i++ {
		e.lessFlatScan.Reset()

		for j := 0; j < 6; j++ {
			sp := (seg.StartRingIndex[i]*(6-j) + seg.EndRingIndex[i]*j) / 6
			ep := (seg.StartRingIndex[i]*(5-j)+seg.EndRingIndex[i]*(j+1))/6 - 1

			if sp >= ep {
				continue
			}

			sector := e.cloudSmooth[sp:ep]
			sort.Slice(sector, func(a, b int) bool {
				return sector[a].value < sector[b].value
			})

			largestPickedNum := 0
			for k := ep; k >= sp; k-- {
				ind := e.cloudSmooth[k].ind
				if e.neighborPicked[ind] == 0 &&
					e.curvature[ind] > e.params.EdgeThreshold &&
					!seg.SegmentedCloudGroundFlag[ind] {
					largestPickedNum++
					if largestPickedNum <= 2 {
						e.label[ind] = 2
						e.CornerSharp.Append(cloud[ind])
						e.CornerLessSharp.Append(cloud[ind])
					} else if largestPickedNum <= 20 {
						e.label[ind] = 1
						e.CornerLessSharp.Append(cloud[ind])
					} else {
						break
					}

					e.suppressNeighbors(ind, seg)
				}
			}

			smallestPickedNum := 0
			for k := sp; k <= ep; k++ {
				ind := e.cloudSmooth[k].ind
				if e.neighborPicked[ind] == 0 &&
					e.curvature[ind] < e.params.SurfThreshold &&
					seg.SegmentedCloudGroundFlag[ind] {
					e.label[ind] = -1
					e.SurfFlat.Append(cloud[ind])

					smallestPickedNum++
					if smallestPickedNum >= 4 {
						break
					}

					e.suppressNeighbors(ind, seg)
				}
			}

			for k := sp; k <= ep; k++ {
				if e.label[k] <= 0 {
					e.lessFlatScan.Append(cloud[k])
				}
			}
		}

		downsampled := VoxelDownsample(e.lessFlatScan, e.params.SurfLeafSize)
		e.SurfLessFlat = append(e.SurfLessFlat, downsampled...)
	}
}

// suppressNeighbors marks the +-5 neighbourhood of a picked feature, stopping
// on either side at a column gap wider than 10 bins (a different surface).
func (e *Extractor) suppressNeighbors(ind int, seg *rangeimage.SegInfo) {
	e.neighborPicked[ind] = 1
	for l := 1; l <= 5; l++ {
		if ind+l >= len(seg.SegmentedCloudColInd) {
			continue
		}
		columnDiff := abs(seg.SegmentedCloudColInd[ind+l] - seg.SegmentedCloudColInd[ind+l-1])
		if columnDiff > 10 {
			break
		}
		e.neighborPicked[ind+l] = 1
	}
	for l := -1; l >= -5; l-- {
		if ind+l < 0 {
			continue
		}
		columnDiff := abs(seg.SegmentedCloudColInd[ind+l] - seg.SegmentedCloudColInd[ind+l+1])
		if columnDiff > 10 {
			break
		}
		e.neighborPicked[ind+l] = 1
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
