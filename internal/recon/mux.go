package recon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/stage"
)

// ErrNoCalibration reports a multiband scan without its own calibration
// cycles for which no usable auxiliary calibration archive was supplied.
var ErrNoCalibration = errors.New("multiband calibration data not found")

// reconMux reconstructs a simultaneous-multislice EPI acquisition. One
// external job runs per prescribed slice; each job writes a tensor file
// covering that slice's band positions in the full volume, and the outputs
// are assembled by embedded slice position, not completion order.
func reconMux(ctx context.Context, ds *mrdata.Dataset, f *pfile.File, tmp *stage.Dir, o *Options) (map[string]*mrdata.Volume, error) {
	pfPath, err := ensurePlain(f.Path, tmp.Path())
	if err != nil {
		return nil, err
	}

	// Scans with at least two of their own calibration cycles are
	// self-calibrating; the reconstruction finds the _ref.dat and
	// _vrgf.dat files beside the p-file. Everything else needs the
	// calibration scan from an auxiliary archive.
	cal := ""
	if ds.NumMuxCalCycle < 2 {
		cal, err = findCalibration(o.AuxFile, tmp)
		if err != nil {
			return nil, err
		}
	}

	sense := 0
	switch o.ReconType {
	case "sense":
		sense = 1
	case "grappa":
		sense = 0
	default:
		// CAIPI-shifted undersampled diffusion scans need the SENSE
		// path; 1D-GRAPPA handles everything else.
		if ds.IsDWI && ds.NumBands > 1 && ds.PhaseEncodeUndersample < 1 && ds.CAIPI > 0 {
			sense = 1
		}
	}
	const fermiFilter = 1

	jobs := make([]*Job, ds.NumSlices)
	outs := make([]string, ds.NumSlices)
	for i := range jobs {
		outs[i] = tmp.Join(fmt.Sprintf("mux_out_%03d.dat", i))
		eval := fmt.Sprintf(`mux_epi_main("%s", "%s", "%s", %d, [], %d, 0, %d, %d, %g);`,
			pfPath, outs[i], cal, i+1, o.NumVirtualCoils, sense, fermiFilter, o.NotchThresh)
		jobs[i] = &Job{
			Slice: i,
			Dir:   tmp.Path(),
			Name:  o.octave(),
			Args:  []string{"--no-window-system", "-p", o.ReconPath, "--eval", eval},
		}
	}
	if err := runPool(ctx, o.runner(), o.maxJobs(), jobs); err != nil {
		return nil, err
	}

	vol, err := assembleSlices(outs)
	if err != nil {
		return nil, err
	}
	return map[string]*mrdata.Volume{mrdata.PrimaryKey: vol}, nil
}

// findCalibration extracts the auxiliary archive and returns the shared
// basename of its _ref.dat/_vrgf.dat calibration pair, which the
// reconstruction resolves to the calibration p-file.
func findCalibration(aux string, tmp *stage.Dir) (string, error) {
	if aux == "" {
		return "", fmt.Errorf("%w: auxiliary calibration archive required", ErrNoCalibration)
	}
	r, err := os.Open(aux)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCalibration, err)
	}
	defer r.Close()
	paths, err := tmp.ExtractTar(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCalibration, err)
	}

	var refBase, vrgfBase string
	for _, p := range paths {
		if strings.HasSuffix(p, "_ref.dat") {
			refBase = strings.TrimSuffix(p, "_ref.dat")
		} else if strings.HasSuffix(p, "_vrgf.dat") {
			vrgfBase = strings.TrimSuffix(p, "_vrgf.dat")
		}
	}
	if refBase == "" || refBase != vrgfBase {
		return "", fmt.Errorf("%w: no matching _ref.dat/_vrgf.dat pair in auxiliary archive", ErrNoCalibration)
	}
	return refBase, nil
}

// assembleSlices merges per-slice tensor files into one volume, placing
// each payload at its embedded slice positions. Slices may disagree on how
// many timepoints completed (an aborted scan leaves a partial trailing
// timepoint); the minimum common count is kept.
func assembleSlices(paths []string) (*mrdata.Volume, error) {
	type part struct {
		locs []int
		vol  *mrdata.Volume
	}
	parts := make([]part, 0, len(paths))
	nx, ny, minT, maxLoc := 0, 0, 0, -1
	for _, p := range paths {
		locs, vol, err := ReadSliceFile(p)
		if err != nil {
			return nil, err
		}
		if len(vol.Dims) == 3 {
			if err := vol.Reshape(vol.Dims[0], vol.Dims[1], vol.Dims[2], 1); err != nil {
				return nil, err
			}
		}
		if len(vol.Dims) != 4 {
			return nil, fmt.Errorf("%w: slice tensor has %d dimensions", mrdata.ErrFormat, len(vol.Dims))
		}
		if len(locs) != vol.Dims[2] {
			return nil, fmt.Errorf("%w: %d slice positions for %d planes", mrdata.ErrFormat, len(locs), vol.Dims[2])
		}
		if nx == 0 {
			nx, ny, minT = vol.Dims[0], vol.Dims[1], vol.Dims[3]
		} else if vol.Dims[0] != nx || vol.Dims[1] != ny {
			return nil, fmt.Errorf("%w: slice tensor matrix %dx%d, want %dx%d", mrdata.ErrFormat, vol.Dims[0], vol.Dims[1], nx, ny)
		}
		if vol.Dims[3] < minT {
			log.Warnf("slice output completed only %d of %d timepoints, keeping the common count", vol.Dims[3], minT)
			minT = vol.Dims[3]
		}
		for _, l := range locs {
			if l > maxLoc {
				maxLoc = l
			}
		}
		parts = append(parts, part{locs, vol})
	}
	if len(parts) == 0 || maxLoc < 0 {
		return nil, fmt.Errorf("%w: no slice tensors produced", mrdata.ErrFormat)
	}

	full := mrdata.NewVolume(nx, ny, maxLoc+1, minT)
	for _, pt := range parts {
		// Reconstruction output runs right-to-left along x relative to
		// the header convention.
		pt.vol.FlipX()
		for li, loc := range pt.locs {
			for t := 0; t < minT; t++ {
				for y := 0; y < ny; y++ {
					for x := 0; x < nx; x++ {
						full.Set(pt.vol.At(x, y, li, t), x, y, loc, t)
					}
				}
			}
		}
	}
	return full, nil
}
