// Package odometry estimates per-scan 6-DoF motion by associating the
// current scan's features with the previous scan's and iterating a
// Levenberg-style nonlinear solve over point-to-line and point-to-plane
// residuals.
package odometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// treePoint carries the cloud index through the KD-tree so the ring lookup
// on the matched point works after the query.
type treePoint struct {
	x, y, z float64
	idx     int
}

func (p treePoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.x
	case 1:
		return p.y
	default:
		return p.z
	}
}

// Compare returns the signed distance along dimension d.
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return p.coord(d) - q.coord(d)
}

// Dims returns the dimensionality of the point.
func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance to c.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	dx := p.x - q.x
	dy := p.y - q.y
	dz := p.z - q.z
	return dx*dx + dy*dy + dz*dz
}

// treePoints implements kdtree.Interface over a slice of treePoint.
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p treePoints) Len() int                      { return len(p) }
func (p treePoints) Slice(s, e int) kdtree.Interface {
	return p[s:e]
}
func (p treePoints) Pivot(d kdtree.Dim) int {
	return plane{Dim: d, treePoints: p}.Pivot()
}

// plane is the SortSlicer used during tree construction.
type plane struct {
	kdtree.Dim
	treePoints
}

func (p plane) Less(i, j int) bool {
	return p.treePoints[i].coord(p.Dim) < p.treePoints[j].coord(p.Dim)
}
func (p plane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
func (p plane) Slice(s, e int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[s:e]
	return p
}
func (p plane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

// featureTree indexes a feature cloud for single-nearest-neighbour queries
// returning the cloud index and the squared distance.
type featureTree struct {
	tree *kdtree.Tree
}

func buildFeatureTree(cloud lidar.PointCloud) *featureTree {
	if len(cloud) == 0 {
		return &featureTree{}
	}
	pts := make(treePoints, len(cloud))
	for i, p := range cloud {
		pts[i] = treePoint{x: p.X, y: p.Y, z: p.Z, idx: i}
	}
	return &featureTree{tree: kdtree.New(pts, false)}
}

// Nearest returns the index of the closest indexed point to p and the
// squared distance, or (-1, +Inf) for an empty tree.
func (t *featureTree) Nearest(p lidar.Point) (int, float64) {
	if t == nil || t.tree == nil || t.tree.Count == 0 {
		return -1, math.Inf(1)
	}
	got, dist := t.tree.Nearest(treePoint{x: p.X, y: p.Y, z: p.Z, idx: -1})
	if got == nil {
		return -1, math.Inf(1)
	}
	return got.(treePoint).idx, dist
}
