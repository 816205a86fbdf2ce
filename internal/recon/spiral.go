package recon

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/stage"
)

// reconSpiral runs the external spiral gridding binary and reshapes its
// raw float output. The magnitude file is Fortran-ordered with slices as
// the slowest axis; it is reordered to [x, y, slice, time, echo]. A
// two-echo acquisition is additionally collapsed into one magnitude-
// weighted average volume, and the optional B0 field map is published
// under its own label.
func reconSpiral(ctx context.Context, ds *mrdata.Dataset, f *pfile.File, tmp *stage.Dir, o *Options) (map[string]*mrdata.Volume, error) {
	pfPath, err := ensurePlain(f.Path, tmp.Path())
	if err != nil {
		return nil, err
	}

	const base = "recon"
	args := []string{"-l", "--rotate", "-90", "--magfile", "--savefmap2", "--b0navigator", "-r", pfPath, "-t", base}
	if err := o.runner().Run(ctx, tmp.Path(), o.spirec(), args...); err != nil {
		return nil, err
	}

	nx, ny, nt, ne, ns := ds.SizeX, ds.SizeY, ds.NumTimepoints, ds.NumEchos, ds.NumSlices
	if nx <= 0 || ny <= 0 || nt <= 0 || ne <= 0 || ns <= 0 {
		return nil, fmt.Errorf("%w: degenerate spiral dimensions %dx%dx%dx%dx%d", mrdata.ErrFormat, nx, ny, ns, nt, ne)
	}
	raw, err := readFloats(tmp.Join(base+".mag_float"), nx*ny*nt*ne*ns)
	if err != nil {
		return nil, err
	}
	mag := &mrdata.Volume{Dims: []int{nx, ny, nt, ne, ns}, Data: raw}
	vol := transposeAxes(mag, []int{0, 1, 4, 2, 3})
	volumes := map[string]*mrdata.Volume{mrdata.PrimaryKey: vol}

	if fmPath := tmp.Join(base + ".B0freq2"); fileNonEmpty(fmPath) {
		rawFM, err := readFloats(fmPath, nx*ny*ne*ns)
		if err != nil {
			return nil, err
		}
		fm := &mrdata.Volume{Dims: []int{nx, ny, ne, ns}, Data: rawFM}
		volumes["fieldmap"] = transposeAxes(fm, []int{0, 1, 3, 2})
	}

	if ne == 2 {
		volumes[mrdata.PrimaryKey] = echoWeightedAverage(vol)
	}
	return volumes, nil
}

// echoWeightedAverage collapses a two-echo [x,y,s,t,2] volume into
// [x,y,s,t], weighting each echo per voxel by its mean magnitude over
// time. Spiral in/out acquisitions recover signal in regions where one of
// the echoes dropped out.
func echoWeightedAverage(v *mrdata.Volume) *mrdata.Volume {
	nx, ny, ns, nt := v.Dims[0], v.Dims[1], v.Dims[2], v.Dims[3]
	out := mrdata.NewVolume(nx, ny, ns, nt)
	for s := 0; s < ns; s++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				var wIn, wOut float64
				for t := 0; t < nt; t++ {
					wIn += float64(v.At(x, y, s, t, 0))
					wOut += float64(v.At(x, y, s, t, 1))
				}
				sum := wIn + wOut
				if sum == 0 {
					continue
				}
				for t := 0; t < nt; t++ {
					avg := (wIn*float64(v.At(x, y, s, t, 0)) + wOut*float64(v.At(x, y, s, t, 1))) / sum
					out.Set(float32(avg), x, y, s, t)
				}
			}
		}
	}
	return out
}

// readFloats reads exactly n little-endian float32 values from path.
func readFloats(path string, n int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
	}
	if len(data) != 4*n {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", mrdata.ErrFormat, path, len(data), 4*n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

func fileNonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
