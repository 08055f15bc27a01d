package odometry

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// findCorrespondingCornerFeatures pairs each sharp corner with an edge line
// in the previous scan's less-sharp cloud and pushes the point-to-line
// residual coefficients. Correspondences are rebuilt every 5th iteration;
// in between, the cached pair indices are reused.
//
// The second line point is searched within +-2.5 rings of the nearest
// match, walking the target cloud's ring-ordered array. The forward walk is
// bounded by the current scan's sharp-corner count, matching the upstream
// behaviour on which the solver was tuned.
func (e *Estimator) findCorrespondingCornerFeatures(cornerSharp lidar.PointCloud, iterCount int) {
	cornerPointsSharpNum := len(cornerSharp)

	for i := 0; i < cornerPointsSharpNum; i++ {
		pointSel := e.transformToStart(cornerSharp[i])

		if iterCount%5 == 0 {
			closestPointInd := -1
			minPointInd2 := -1

			nearestInd, nearestSqDist := e.kdtreeCornerLast.Nearest(pointSel)
			if nearestSqDist < e.params.NearestFeatureSearchSqDist {
				closestPointInd = nearestInd
				closestPointScan := int(e.CornerLast[closestPointInd].Intensity)

				minPointSqDis2 := e.params.NearestFeatureSearchSqDist
				for j := closestPointInd + 1; j < cornerPointsSharpNum; j++ {
					if float64(int(e.CornerLast[j].Intensity)) > float64(closestPointScan)+2.5 {
						break
					}

					pointSqDis := sqDist(e.CornerLast[j], pointSel)

					if int(e.CornerLast[j].Intensity) > closestPointScan {
						if pointSqDis < minPointSqDis2 {
							minPointSqDis2 = pointSqDis
							minPointInd2 = j
						}
					}
				}
				for j := closestPointInd - 1; j >= 0; j-- {
					if float64(int(e.CornerLast[j].Intensity)) < float64(closestPointScan)-2.5 {
						break
					}

					pointSqDis := sqDist(e.CornerLast[j], pointSel)

					if int(e.CornerLast[j].Intensity) < closestPointScan {
						if pointSqDis < minPointSqDis2 {
							minPointSqDis2 = pointSqDis
							minPointInd2 = j
						}
					}
				}
			}

			e.pointSearchCornerInd1[i] = closestPointInd
			e.pointSearchCornerInd2[i] = minPointInd2
		}

		if e.pointSearchCornerInd2[i] >= 0 {
			tripod1 := e.CornerLast[e.pointSearchCornerInd1[i]]
			tripod2 := e.CornerLast[e.pointSearchCornerInd2[i]]

			x0, y0, z0 := pointSel.X, pointSel.Y, pointSel.Z
			x1, y1, z1 := tripod1.X, tripod1.Y, tripod1.Z
			x2, y2, z2 := tripod2.X, tripod2.Y, tripod2.Z

			m11 := (x0-x1)*(y0-y2) - (x0-x2)*(y0-y1)
			m22 := (x0-x1)*(z0-z2) - (x0-x2)*(z0-z1)
			m33 := (y0-y1)*(z0-z2) - (y0-y2)*(z0-z1)

			a012 := math.Sqrt(m11*m11 + m22*m22 + m33*m33)

			l12 := math.Sqrt((x1-x2)*(x1-x2) + (y1-y2)*(y1-y2) + (z1-z2)*(z1-z2))

			la := ((y1-y2)*m11 + (z1-z2)*m22) / a012 / l12
			lb := -((x1-x2)*m11 - (z1-z2)*m33) / a012 / l12
			lc := -((x1-x2)*m22 + (y1-y2)*m33) / a012 / l12

			ld2 := a012 / l12

			s := 1.0
			if iterCount >= 5 {
				s = 1 - 1.8*math.Abs(ld2)
			}

			if s > 0.1 && ld2 != 0 {
				e.laserCloudOri.Append(cornerSharp[i])
				e.coeffSel.Append(lidar.Point{
					X: s * la, Y: s * lb, Z: s * lc, Intensity: s * ld2,
				})
			}
		}
	}
}

// findCorrespondingSurfFeatures pairs each flat surface point with a plane
// spanned by three points of the previous scan's less-flat cloud: the
// nearest neighbour, a second point on the same or a lower ring, and a third
// on a higher ring, each within +-2.5 rings.
func (e *Estimator) findCorrespondingSurfFeatures(surfFlat lidar.PointCloud, iterCount int) {
	surfPointsFlatNum := len(surfFlat)

	for i := 0; i < surfPointsFlatNum; i++ {
		pointSel := e.transformToStart(surfFlat[i])

		if iterCount%5 == 0 {
			closestPointInd := -1
			minPointInd2 := -1
			minPointInd3 := -1

			nearestInd, nearestSqDist := e.kdtreeSurfLast.Nearest(pointSel)
			if nearestSqDist < e.params.NearestFeatureSearchSqDist {
				closestPointInd = nearestInd
				closestPointScan := int(e.SurfLast[closestPointInd].Intensity)

				minPointSqDis2 := e.params.NearestFeatureSearchSqDist
				minPointSqDis3 := e.params.NearestFeatureSearchSqDist
				for j := closestPointInd + 1; j < surfPointsFlatNum; j++ {
					if float64(int(e.SurfLast[j].Intensity)) > float64(closestPointScan)+2.5 {
						break
					}

					pointSqDis := sqDist(e.SurfLast[j], pointSel)

					if int(e.SurfLast[j].Intensity) <= closestPointScan {
						if pointSqDis < minPointSqDis2 {
							minPointSqDis2 = pointSqDis
							minPointInd2 = j
						}
					} else {
						if pointSqDis < minPointSqDis3 {
							minPointSqDis3 = pointSqDis
							minPointInd3 = j
						}
					}
				}
				for j := closestPointInd - 1; j >= 0; j-- {
					if float64(int(e.SurfLast[j].Intensity)) < float64(closestPointScan)-2.5 {
						break
					}

					pointSqDis := sqDist(e.SurfLast[j], pointSel)

					if int(e.SurfLast[j].Intensity) >= closestPointScan {
						if pointSqDis < minPointSqDis2 {
							minPointSqDis2 = pointSqDis
							minPointInd2 = j
						}
					} else {
						if pointSqDis < minPointSqDis3 {
							minPointSqDis3 = pointSqDis
							minPointInd3 = j
						}
					}
				}
			}

			e.pointSearchSurfInd1[i] = closestPointInd
			e.pointSearchSurfInd2[i] = minPointInd2
			e.pointSearchSurfInd3[i] = minPointInd3
		}

		if e.pointSearchSurfInd2[i] >= 0 && e.pointSearchSurfInd3[i] >= 0 {
			tripod1 := e.SurfLast[e.pointSearchSurfInd1[i]]
			tripod2 := e.SurfLast[e.pointSearchSurfInd2[i]]
			tripod3 := e.SurfLast[e.pointSearchSurfInd3[i]]

			pa := (tripod2.Y-tripod1.Y)*(tripod3.Z-tripod1.Z) -
				(tripod3.Y-tripod1.Y)*(tripod2.Z-tripod1.Z)
			pb := (tripod2.Z-tripod1.Z)*(tripod3.X-tripod1.X) -
				(tripod3.Z-tripod1.Z)*(tripod2.X-tripod1.X)
			pc := (tripod2.X-tripod1.X)*(tripod3.Y-tripod1.Y) -
				(tripod3.X-tripod1.X)*(tripod2.Y-tripod1.Y)
			pd := -(pa*tripod1.X + pb*tripod1.Y + pc*tripod1.Z)

			ps := math.Sqrt(pa*pa + pb*pb + pc*pc)

			pa /= ps
			pb /= ps
			pc /= ps
			pd /= ps

			pd2 := pa*pointSel.X + pb*pointSel.Y + pc*pointSel.Z + pd

			s := 1.0
			if iterCount >= 5 {
				s = 1 - 1.8*math.Abs(pd2)/
					math.Sqrt(math.Sqrt(pointSel.X*pointSel.X+pointSel.Y*pointSel.Y+pointSel.Z*pointSel.Z))
			}

			if s > 0.1 && pd2 != 0 {
				e.laserCloudOri.Append(surfFlat[i])
				e.coeffSel.Append(lidar.Point{
					X: s * pa, Y: s * pb, Z: s * pc, Intensity: s * pd2,
				})
			}
		}
	}
}

func sqDist(a, b lidar.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}
