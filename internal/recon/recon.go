// Package recon turns a fully parsed raw-acquisition file into voxel
// volumes. Each sequence family maps to exactly one reconstruction
// strategy, selected once per dataset; the concurrency-bearing strategies
// shell out to external reconstruction binaries through a bounded job
// pool. Strategy failures are recoverable: they are recorded on the
// dataset instead of being propagated, so a batch driver is never stopped
// by one bad scan.
package recon

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/stage"
)

// Options configures reconstruction. The zero value shells out to the
// binaries found on PATH with a small worker pool.
type Options struct {
	// MaxJobs bounds the number of concurrently running external
	// reconstruction processes. Defaults to 4.
	MaxJobs int
	// TempDir is the parent for the scratch directory. Empty uses the
	// system default.
	TempDir string
	// AuxFile is an auxiliary calibration archive (tgz) for multiband
	// scans that did not acquire their own calibration.
	AuxFile string
	// OctaveBin and SpirecBin override the external binaries. ReconPath
	// is prepended to the octave load path and should point at the
	// multiband reconstruction scripts.
	OctaveBin string
	SpirecBin string
	ReconPath string
	// NumVirtualCoils compresses the receive array before the multiband
	// reconstruction; 0 keeps every physical coil.
	NumVirtualCoils int
	// NotchThresh enables notch filtering of spuriously dim frames.
	NotchThresh float64
	// ReconType forces "sense" or "grappa" multiband reconstruction
	// instead of the per-scan heuristic.
	ReconType string
	// Runner substitutes the process launcher, for tests.
	Runner Runner
}

func (o *Options) maxJobs() int {
	if o.MaxJobs > 0 {
		return o.MaxJobs
	}
	return 4
}

func (o *Options) runner() Runner {
	if o.Runner != nil {
		return o.Runner
	}
	return ExecRunner{}
}

func (o *Options) octave() string {
	if o.OctaveBin != "" {
		return o.OctaveBin
	}
	return "octave"
}

func (o *Options) spirec() string {
	if o.SpirecBin != "" {
		return o.SpirecBin
	}
	return "spirec"
}

// Reconstruct runs the reconstruction strategy for the dataset's sequence
// family and installs the resulting volumes. Strategy errors land in
// ds.FailureReason; the returned error is reserved for callers misusing
// the API. Sequences with no strategy leave the dataset untouched.
func Reconstruct(ctx context.Context, ds *mrdata.Dataset, f *pfile.File, h *pfile.Header, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}

	switch ds.PSDType {
	case mrdata.PSDHoshim, mrdata.PSDBasic:
		// Shim and service-calibration scans carry no reconstructable
		// image data.
		log.Debugf("%s scan produces no image, skipping reconstruction", ds.PSDType)
		ds.IsNonImage = true
		return nil
	case mrdata.PSDSpiral, mrdata.PSDMuxEPI, mrdata.PSDMRS:
	default:
		log.Debugf("no reconstruction strategy for sequence type %q", ds.PSDType)
		return nil
	}

	if ds.IsDWI {
		tensor := pfile.TensorPath(filepath.Dir(f.Path), h.PFileName())
		if err := pfile.LoadBVecs(&ds.Metadata, tensor); err != nil {
			ds.Fail(&mrdata.ReconError{Strategy: string(ds.PSDType), Err: err})
			return nil
		}
	}

	tmp, err := stage.New(opts.TempDir)
	if err != nil {
		ds.Fail(&mrdata.ReconError{Strategy: string(ds.PSDType), Err: err})
		return nil
	}
	defer tmp.Close()

	var volumes map[string]*mrdata.Volume
	switch ds.PSDType {
	case mrdata.PSDSpiral:
		volumes, err = reconSpiral(ctx, ds, f, tmp, opts)
	case mrdata.PSDMuxEPI:
		volumes, err = reconMux(ctx, ds, f, tmp, opts)
	case mrdata.PSDMRS:
		volumes, err = reconMRS(f, h)
	}
	if err != nil {
		ds.Fail(&mrdata.ReconError{Strategy: string(ds.PSDType), Err: err})
		return nil
	}

	// Spectroscopy keeps acquisition order; the slice and left/right
	// fix-ups only apply to image-space volumes.
	if ds.PSDType != mrdata.PSDMRS {
		for _, vol := range volumes {
			if ds.ReverseSliceOrder {
				vol.ReverseSlices()
			}
			if ds.FlipLR {
				vol.FlipX()
			}
		}
	}
	ds.SetData(volumes)

	if ds.PSDType == mrdata.PSDMuxEPI {
		// The reconstruction decides the real matrix and timepoint count.
		if ds.SizeX > 0 {
			ds.MMPerVoxX = ds.FOVX / float64(ds.SizeX)
		}
		if ds.SizeY > 0 {
			ds.MMPerVoxY = ds.FOVY / float64(ds.SizeY)
		}
		ds.Duration = float64(ds.NumTimepoints) * ds.TR
	}
	return nil
}

// reconMRS loads the raw k-space samples for spectroscopy, which has no
// image reconstruction step. The acquisition axes are reordered so the
// repetition (pass) and slice axes directly follow the sample axis.
func reconMRS(f *pfile.File, h *pfile.Header) (map[string]*mrdata.Volume, error) {
	raw, err := f.RawData(h)
	if err != nil {
		return nil, err
	}
	vol := transposeAxes(raw, []int{0, 1, 6, 4, 2, 3, 5})
	return map[string]*mrdata.Volume{mrdata.PrimaryKey: vol}, nil
}

// transposeAxes returns a copy of v with its axes permuted: output axis i
// is input axis perm[i].
func transposeAxes(v *mrdata.Volume, perm []int) *mrdata.Volume {
	dims := make([]int, len(perm))
	for i, p := range perm {
		dims[i] = v.Dims[p]
	}
	out := mrdata.NewVolume(dims...)
	src := make([]int, len(v.Dims))
	dst := make([]int, len(perm))
	for off := range v.Data {
		for i, p := range perm {
			dst[i] = src[p]
		}
		out.Set(v.Data[off], dst...)
		for d := 0; d < len(src); d++ {
			src[d]++
			if src[d] < v.Dims[d] {
				break
			}
			src[d] = 0
		}
	}
	return out
}

// ensurePlain returns a path to an uncompressed copy of the file, placing
// the copy in dir when decompression is needed. The external binaries
// cannot read gzipped input.
func ensurePlain(path, dir string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	var head [2]byte
	if _, err := io.ReadFull(in, head[:]); err != nil {
		return "", err
	}
	if head[0] != 0x1f || head[1] != 0x8b {
		return path, nil
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), ".gz"))
	dst, err := os.Create(out)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, gz); err != nil {
		dst.Close()
		return "", err
	}
	return out, dst.Close()
}
