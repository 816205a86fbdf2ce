package mrdata

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Cross returns the cross product of two 3-vectors.
func Cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Dot returns the dot product of two 3-vectors.
func Dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Normalize scales a 3-vector to unit length. The zero vector is returned
// unchanged.
func Normalize(a [3]float64) [3]float64 {
	n := math.Sqrt(Dot(a, a))
	if n == 0 {
		return a
	}
	return [3]float64{a[0] / n, a[1] / n, a[2] / n}
}

// ComputeRotation builds the 3x3 patient-space rotation from the row and
// column direction cosines and the slice normal. The x and y axes are
// negated to convert from the scanner's LPS convention to RAS.
func ComputeRotation(rowCos, colCos, sliceNorm [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		-rowCos[0], -colCos[0], -sliceNorm[0],
		-rowCos[1], -colCos[1], -sliceNorm[1],
		rowCos[2], colCos[2], sliceNorm[2],
	})
}

// BuildAffine assembles the 4x4 voxel-to-patient transform from a rotation,
// a per-axis scale (voxel size in mm) and an origin in patient coordinates.
func BuildAffine(rotation *mat.Dense, scale, origin [3]float64) *mat.Dense {
	aff := mat.NewDense(4, 4, nil)
	var scaled mat.Dense
	scaled.Mul(rotation, mat.NewDiagDense(3, scale[:]))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			aff.Set(i, j, scaled.At(i, j))
		}
		aff.Set(i, 3, origin[i])
	}
	aff.Set(3, 3, 1)
	return aff
}

// SliceNormFromPositions computes the slice normal from the direction
// cosines and the positions of the first and last slice. The cross product
// fixes the axis; comparing projections of the two end positions fixes the
// sign. Returns the normal and whether it was flipped.
func SliceNormFromPositions(rowCos, colCos, posFirst, posLast [3]float64) ([3]float64, bool) {
	norm := Cross(rowCos, colCos)
	if Dot(norm, posFirst) > Dot(norm, posLast) {
		return [3]float64{-norm[0], -norm[1], -norm[2]}, true
	}
	return norm, false
}

// AdjustBVecs normalizes diffusion gradient directions and scales their
// b-values, then rotates them into patient space. GE stores bvecs in the
// image coordinate frame, so the image rotation applies; other vendors
// store them in scanner space and only need the LPS-to-RAS sign change.
func AdjustBVecs(bvecs *[3][]float64, bvals []float64, vendor string, rotation *mat.Dense) {
	ScaleBVals(bvecs, bvals)
	if isGE(vendor) && rotation != nil {
		log.Debug("rotating bvecs with image orientation matrix")
		rotateBVecs(bvecs, rotation)
	} else {
		rotateBVecs(bvecs, mat.NewDense(3, 3, []float64{-1, 0, 0, 0, -1, 0, 0, 0, 1}))
	}
}

func isGE(vendor string) bool {
	return len(vendor) >= 2 && (vendor[0] == 'G' || vendor[0] == 'g') && (vendor[1] == 'E' || vendor[1] == 'e')
}

// ScaleBVals scales b-values by the squared magnitude of their (possibly
// non-unit) bvecs and normalizes the bvecs to unit length. Magnitudes are
// rounded to the precision the bvecs were stored with, so that three-decimal
// rounding error does not perturb the b-values.
func ScaleBVals(bvecs *[3][]float64, bvals []float64) {
	n := len(bvals)
	if n == 0 || (allZero(bvecs[0]) && allZero(bvecs[1]) && allZero(bvecs[2])) || allZero(bvals) {
		return
	}
	decimals := storedDecimals(bvecs)
	for i := 0; i < n; i++ {
		v := [3]float64{bvecs[0][i], bvecs[1][i], bvecs[2][i]}
		sqmag := roundTo(Dot(v, v), decimals-1)
		bvals[i] *= sqmag
		if sqmag > 0 {
			mag := math.Sqrt(sqmag)
			bvecs[0][i] /= mag
			bvecs[1][i] /= mag
			bvecs[2][i] /= mag
		}
	}
}

func rotateBVecs(bvecs *[3][]float64, rotation *mat.Dense) {
	for i := range bvecs[0] {
		v := mat.NewVecDense(3, []float64{bvecs[0][i], bvecs[1][i], bvecs[2][i]})
		var out mat.VecDense
		out.MulVec(rotation, v)
		norm := mat.Norm(&out, 2)
		if norm == 0 {
			norm = 1
		}
		bvecs[0][i] = out.AtVec(0) / norm
		bvecs[1][i] = out.AtVec(1) / norm
		bvecs[2][i] = out.AtVec(2) / norm
	}
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// storedDecimals finds how many decimal places the bvec components carry,
// so rounding noise below that precision can be ignored.
func storedDecimals(bvecs *[3][]float64) int {
	last := 0
	for d := 0; d < 9; d++ {
		for axis := 0; axis < 3; axis++ {
			for _, x := range bvecs[axis] {
				if math.Abs(x-roundTo(x, d)) > 0 {
					last = d
				}
			}
		}
	}
	if last == 0 {
		return 1
	}
	return last + 1
}

func roundTo(x float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}
