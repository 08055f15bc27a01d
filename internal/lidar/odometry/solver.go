package odometry

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// Eigenvalues of the normal matrix below this mark an unobservable
// direction.
const eigenThreshold = 10.0

// jacobianTerms precomputes the trigonometric products shared by every row
// of a solve iteration. The closed forms encode the rz-rx-ry rotation order
// with the camera-frame axis permutation; the algebra is reproduced term for
// term from the derivation and must not be simplified.
type jacobianTerms struct {
	srx, crx, sry, cry, srz, crz float64

	a1, a2, a3, a4, a5, a6, a7, a8, a9, a10, a11 float64
	b1, b2, b3, b4, b5, b6, b7, b8               float64
	c1, c2, c3, c4, c5, c6, c7, c8, c9           float64
}

func newJacobianTerms(transform [6]float64) jacobianTerms {
	var t jacobianTerms
	t.srx = math.Sin(transform[0])
	t.crx = math.Cos(transform[0])
	t.sry = math.Sin(transform[1])
	t.cry = math.Cos(transform[1])
	t.srz = math.Sin(transform[2])
	t.crz = math.Cos(transform[2])
	tx := transform[3]
	ty := transform[4]
	tz := transform[5]

	t.a1 = t.crx * t.sry * t.srz
	t.a2 = t.crx * t.crz * t.sry
	t.a3 = t.srx * t.sry
	t.a4 = tx*t.a1 - ty*t.a2 - tz*t.a3
	t.a5 = t.srx * t.srz
	t.a6 = t.crz * t.srx
	t.a7 = ty*t.a6 - tz*t.crx - tx*t.a5
	t.a8 = t.crx * t.cry * t.srz
	t.a9 = t.crx * t.cry * t.crz
	t.a10 = t.cry * t.srx
	t.a11 = tz*t.a10 + ty*t.a9 - tx*t.a8

	t.b1 = -t.crz*t.sry - t.cry*t.srx*t.srz
	t.b2 = t.cry*t.crz*t.srx - t.sry*t.srz
	t.b3 = t.crx * t.cry
	t.b4 = tx*-t.b1 + ty*-t.b2 + tz*t.b3
	t.b5 = t.cry*t.crz - t.srx*t.sry*t.srz
	t.b6 = t.cry*t.srz + t.crz*t.srx*t.sry
	t.b7 = t.crx * t.sry
	t.b8 = tz*t.b7 - ty*t.b6 - tx*t.b5

	t.c1 = -t.b6
	t.c2 = t.b5
	t.c3 = tx*t.b6 - ty*t.b5
	t.c4 = -t.crx * t.crz
	t.c5 = t.crx * t.srz
	t.c6 = ty*t.c5 + tx*-t.c4
	t.c7 = t.b2
	t.c8 = -t.b1
	t.c9 = tx*-t.b2 - ty*-t.b1

	return t
}

// surfRow returns the partials of one surface residual with respect to the
// observable surface parameters (rx, rz, ty).
func (t jacobianTerms) surfRow(pointOri, coeff lidar.Point) (arx, arz, aty float64) {
	arx = (-t.a1*pointOri.X+t.a2*pointOri.Y+t.a3*pointOri.Z+t.a4)*coeff.X +
		(t.a5*pointOri.X-t.a6*pointOri.Y+t.crx*pointOri.Z+t.a7)*coeff.Y +
		(t.a8*pointOri.X-t.a9*pointOri.Y-t.a10*pointOri.Z+t.a11)*coeff.Z

	arz = (t.c1*pointOri.X+t.c2*pointOri.Y+t.c3)*coeff.X +
		(t.c4*pointOri.X-t.c5*pointOri.Y+t.c6)*coeff.Y +
		(t.c7*pointOri.X+t.c8*pointOri.Y+t.c9)*coeff.Z

	aty = -t.b6*coeff.X + t.c4*coeff.Y + t.b2*coeff.Z
	return arx, arz, aty
}

// cornerRow returns the partials of one edge residual with respect to the
// observable corner parameters (ry, tx, tz).
func (t jacobianTerms) cornerRow(pointOri, coeff lidar.Point) (ary, atx, atz float64) {
	ary = (t.b1*pointOri.X+t.b2*pointOri.Y-t.b3*pointOri.Z+t.b4)*coeff.X +
		(t.b5*pointOri.X+t.b6*pointOri.Y-t.b7*pointOri.Z+t.b8)*coeff.Z

	atx = -t.b5*coeff.X + t.c5*coeff.Y + t.b1*coeff.Z

	atz = t.b7*coeff.X - t.srx*coeff.Y - t.b3*coeff.Z
	return ary, atx, atz
}

// fullRow returns the partials of one residual with respect to all six
// parameters, for the joint solve.
func (t jacobianTerms) fullRow(pointOri, coeff lidar.Point) (arx, ary, arz, atx, aty, atz float64) {
	arx, arz, aty = t.surfRow(pointOri, coeff)
	ary, atx, atz = t.cornerRow(pointOri, coeff)
	return arx, ary, arz, atx, aty, atz
}

// solveNormal solves AtA*x = AtB via QR and, on the first iteration of a
// solve pass, computes the degeneracy projection from the
// eigendecomposition of AtA: eigenvectors whose eigenvalues fall below the
// threshold are zeroed in a copy V2 and the update is thereafter projected
// through P = inv(V) * V2.
func (e *Estimator) solveNormal(a *mat.Dense, b *mat.VecDense, iterCount int) []float64 {
	_, n := a.Dims()

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var qr mat.QR
	qr.Factorize(&ata)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, &atb); err != nil {
		if _, conditioned := err.(mat.Condition); !conditioned {
			// Hard failure: no usable update this iteration.
			return make([]float64, n)
		}
		// Ill-conditioned systems still carry a solution; rank-deficient
		// directions come back non-finite and are zeroed so the degeneracy
		// projection below can do its job.
		for i := 0; i < n; i++ {
			if v := x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
				x.SetVec(i, 0)
			}
		}
	}

	if iterCount == 0 {
		e.computeDegeneracy(&ata, n)
	}

	if e.isDegenerate && e.matP != nil {
		var x2 mat.VecDense
		x2.MulVec(e.matP, &x)
		x.CopyVec(&x2)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = x.AtVec(i)
	}
	return out
}

// computeDegeneracy eigendecomposes the normal matrix and builds the
// projection that suppresses unobservable directions. Rows of V hold the
// eigenvectors in descending eigenvalue order, so the scan from the highest
// row index visits the weakest direction first and stops at the first
// well-conditioned one.
func (e *Estimator) computeDegeneracy(ata *mat.Dense, n int) {
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, ata.At(i, j))
		}
	}

	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		e.isDegenerate = false
		e.matP = nil
		return
	}

	vals := es.Values(nil) // ascending
	var vecs mat.Dense
	es.VectorsTo(&vecs) // eigenvectors in columns, ascending order

	matV := mat.NewDense(n, n, nil)
	eigs := make([]float64, n)
	for i := 0; i < n; i++ {
		src := n - 1 - i
		eigs[i] = vals[src]
		for j := 0; j < n; j++ {
			matV.Set(i, j, vecs.At(j, src))
		}
	}

	matV2 := mat.DenseCopyOf(matV)
	e.isDegenerate = false
	for i := n - 1; i >= 0; i-- {
		if eigs[i] < eigenThreshold {
			for j := 0; j < n; j++ {
				matV2.Set(i, j, 0)
			}
			e.isDegenerate = true
		} else {
			break
		}
	}

	var vInv mat.Dense
	if err := vInv.Inverse(matV); err != nil {
		e.isDegenerate = false
		e.matP = nil
		return
	}
	e.matP = mat.NewDense(n, n, nil)
	e.matP.Mul(&vInv, matV2)
}

// sanitizeTransform resets any NaN component of the increment to zero.
func (e *Estimator) sanitizeTransform() {
	for i := range e.TransformCur {
		if math.IsNaN(e.TransformCur[i]) {
			e.TransformCur[i] = 0
		}
	}
}

// calculateTransformationSurf performs one Levenberg-style step of the
// surface-only solve over (rx, rz, ty). Returns false once the step falls
// under 0.1 degrees of rotation and 0.1 cm of translation.
func (e *Estimator) calculateTransformationSurf(iterCount int) bool {
	pointSelNum := len(e.laserCloudOri)

	matA := mat.NewDense(pointSelNum, 3, nil)
	matB := mat.NewVecDense(pointSelNum, nil)

	terms := newJacobianTerms(e.TransformCur)

	for i := 0; i < pointSelNum; i++ {
		arx, arz, aty := terms.surfRow(e.laserCloudOri[i], e.coeffSel[i])
		d2 := e.coeffSel[i].Intensity

		matA.Set(i, 0, arx)
		matA.Set(i, 1, arz)
		matA.Set(i, 2, aty)
		matB.SetVec(i, -0.05*d2)
	}

	matX := e.solveNormal(matA, matB, iterCount)

	e.TransformCur[0] += matX[0]
	e.TransformCur[2] += matX[1]
	e.TransformCur[4] += matX[2]

	e.sanitizeTransform()

	deltaR := math.Sqrt(
		math.Pow(lidar.RadToDeg*matX[0], 2) +
			math.Pow(lidar.RadToDeg*matX[1], 2))
	deltaT := math.Sqrt(math.Pow(matX[2]*100, 2))

	return deltaR >= 0.1 || deltaT >= 0.1
}

// calculateTransformationCorner performs one step of the corner-only solve
// over (ry, tx, tz).
func (e *Estimator) calculateTransformationCorner(iterCount int) bool {
	pointSelNum := len(e.laserCloudOri)

	matA := mat.NewDense(pointSelNum, 3, nil)
	matB := mat.NewVecDense(pointSelNum, nil)

	terms := newJacobianTerms(e.TransformCur)

	for i := 0; i < pointSelNum; i++ {
		ary, atx, atz := terms.cornerRow(e.laserCloudOri[i], e.coeffSel[i])
		d2 := e.coeffSel[i].Intensity

		matA.Set(i, 0, ary)
		matA.Set(i, 1, atx)
		matA.Set(i, 2, atz)
		matB.SetVec(i, -0.05*d2)
	}

	matX := e.solveNormal(matA, matB, iterCount)

	e.TransformCur[1] += matX[0]
	e.TransformCur[3] += matX[1]
	e.TransformCur[5] += matX[2]

	e.sanitizeTransform()

	deltaR := math.Sqrt(math.Pow(lidar.RadToDeg*matX[0], 2))
	deltaT := math.Sqrt(
		math.Pow(matX[1]*100, 2) +
			math.Pow(matX[2]*100, 2))

	return deltaR >= 0.1 || deltaT >= 0.1
}

// calculateTransformation performs one step of the joint 6-DoF solve. The
// split surface and corner passes are what the pipeline runs; the joint
// form shares the same partials and pins them against the split passes and
// the numeric derivative in tests.
func (e *Estimator) calculateTransformation(iterCount int) bool {
	pointSelNum := len(e.laserCloudOri)

	matA := mat.NewDense(pointSelNum, 6, nil)
	matB := mat.NewVecDense(pointSelNum, nil)

	terms := newJacobianTerms(e.TransformCur)

	for i := 0; i < pointSelNum; i++ {
		arx, ary, arz, atx, aty, atz := terms.fullRow(e.laserCloudOri[i], e.coeffSel[i])
		d2 := e.coeffSel[i].Intensity

		matA.Set(i, 0, arx)
		matA.Set(i, 1, ary)
		matA.Set(i, 2, arz)
		matA.Set(i, 3, atx)
		matA.Set(i, 4, aty)
		matA.Set(i, 5, atz)
		matB.SetVec(i, -0.05*d2)
	}

	matX := e.solveNormal(matA, matB, iterCount)

	for i := 0; i < 6; i++ {
		e.TransformCur[i] += matX[i]
	}

	e.sanitizeTransform()

	deltaR := math.Sqrt(
		math.Pow(lidar.RadToDeg*matX[0], 2) +
			math.Pow(lidar.RadToDeg*matX[1], 2) +
			math.Pow(lidar.RadToDeg*matX[2], 2))
	deltaT := math.Sqrt(
		math.Pow(matX[3]*100, 2) +
			math.Pow(matX[4]*100, 2) +
			math.Pow(matX[5]*100, 2))

	return deltaR >= 0.1 || deltaT >= 0.1
}
