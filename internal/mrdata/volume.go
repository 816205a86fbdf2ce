package mrdata

import "fmt"

// Volume is a dense N-dimensional float32 array holding reconstructed voxel
// data. Elements are stored column-major (first index fastest), matching
// the layout emitted by the external reconstruction binaries, with up to
// five dimensions [x, y, slice, timepoint, echo].
type Volume struct {
	Dims []int
	Data []float32
}

// NewVolume allocates a zeroed volume with the given dimensions.
func NewVolume(dims ...int) *Volume {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return &Volume{Dims: append([]int(nil), dims...), Data: make([]float32, n)}
}

// Len returns the total number of elements.
func (v *Volume) Len() int {
	n := 1
	for _, d := range v.Dims {
		n *= d
	}
	return n
}

func (v *Volume) offset(idx []int) int {
	if len(idx) != len(v.Dims) {
		panic(fmt.Sprintf("volume: %d indices for %d dims", len(idx), len(v.Dims)))
	}
	off := 0
	stride := 1
	for i, x := range idx {
		if x < 0 || x >= v.Dims[i] {
			panic(fmt.Sprintf("volume: index %d out of range for dim %d (size %d)", x, i, v.Dims[i]))
		}
		off += x * stride
		stride *= v.Dims[i]
	}
	return off
}

// At returns the element at the given indices.
func (v *Volume) At(idx ...int) float32 { return v.Data[v.offset(idx)] }

// Set stores val at the given indices.
func (v *Volume) Set(val float32, idx ...int) { v.Data[v.offset(idx)] = val }

// Reshape reinterprets the flat data with new dimensions. The element count
// must be unchanged.
func (v *Volume) Reshape(dims ...int) error {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(v.Data) {
		return fmt.Errorf("reshape %v to %v: element count mismatch", v.Dims, dims)
	}
	v.Dims = append([]int(nil), dims...)
	return nil
}

// Dim returns the size of dimension i, or 1 when the volume has fewer
// dimensions. Trailing singleton dimensions are implicit.
func (v *Volume) Dim(i int) int {
	if i >= len(v.Dims) {
		return 1
	}
	return v.Dims[i]
}

// TrimTimepoints drops trailing timepoints beyond n. Used when slices of a
// multiband reconstruction disagree on how many timepoints completed: the
// minimum common count is kept so the volume stays rectangular.
func (v *Volume) TrimTimepoints(n int) {
	if len(v.Dims) < 4 || v.Dims[3] <= n {
		return
	}
	per := v.Dims[0] * v.Dims[1] * v.Dims[2]
	echos := 1
	if len(v.Dims) > 4 {
		echos = v.Dims[4]
	}
	if echos != 1 {
		// Timepoints are not the outermost axis; repack echo blocks.
		old := v.Data
		oldT := v.Dims[3]
		v.Data = make([]float32, per*n*echos)
		for e := 0; e < echos; e++ {
			copy(v.Data[e*per*n:(e+1)*per*n], old[e*per*oldT:e*per*oldT+per*n])
		}
	} else {
		v.Data = v.Data[:per*n]
	}
	v.Dims[3] = n
}

// ReverseSlices reverses the order of the slice (third) dimension in place.
func (v *Volume) ReverseSlices() {
	if len(v.Dims) < 3 || v.Dims[2] < 2 {
		return
	}
	plane := v.Dims[0] * v.Dims[1]
	nz := v.Dims[2]
	outer := len(v.Data) / (plane * nz)
	tmp := make([]float32, plane)
	for o := 0; o < outer; o++ {
		base := o * plane * nz
		for i, j := 0, nz-1; i < j; i, j = i+1, j-1 {
			a := v.Data[base+i*plane : base+(i+1)*plane]
			b := v.Data[base+j*plane : base+(j+1)*plane]
			copy(tmp, a)
			copy(a, b)
			copy(b, tmp)
		}
	}
}

// FlipX reverses the first (x) dimension in place.
func (v *Volume) FlipX() {
	if len(v.Dims) == 0 || v.Dims[0] < 2 {
		return
	}
	nx := v.Dims[0]
	for base := 0; base < len(v.Data); base += nx {
		row := v.Data[base : base+nx]
		for i, j := 0, nx-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}
