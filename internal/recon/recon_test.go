package recon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/synth"
)

// testPFile encodes a plausible header, optionally followed by a k-space
// payload, and opens it.
func testPFile(t *testing.T, h *pfile.Header, payload []byte) (*pfile.File, string) {
	t.Helper()
	data, err := pfile.EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "P12345.7")
	if err := os.WriteFile(path, append(data, payload...), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := pfile.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, path
}

func baseHeader() *pfile.Header {
	h := &pfile.Header{Version: pfile.V24}
	h.Rec = pfile.RecSection{
		RunInt:    12345,
		ScanDate:  "05/11/10",
		ScanTime:  "14:02",
		NPasses:   1,
		NSlices:   1,
		NEchoes:   1,
		NFrames:   1,
		FrameSize: 2,
		PointSize: 4,
	}
	h.Exam = pfile.ExamSection{ExamNo: 4628, StudyUID: "1.2.840.113619.6.283"}
	h.Series = pfile.SeriesSection{SeriesNo: 5, SeriesUID: "1.2.840.113619.2.283.4628.5"}
	h.Image = pfile.ImageSection{PSDName: "epi"}
	return h
}

// muxRunner parses the octave eval string of each job and writes the slice
// tensor file the reconstruction would have produced.
type muxRunner struct {
	mu    sync.Mutex
	evals []string

	numSlices  int // jobs per call, one per prescribed slice
	bands      int
	nx, ny, nt int
	shortSlice int // this slice completes one timepoint fewer; -1 for none
	fail       bool
}

func (r *muxRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	eval := args[len(args)-1]
	r.mu.Lock()
	r.evals = append(r.evals, eval)
	r.mu.Unlock()
	if r.fail {
		return errors.New("octave exploded")
	}

	parts := strings.Split(eval, `"`)
	out := parts[3]
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(out), "mux_out_%03d.dat", &idx); err != nil {
		return err
	}
	nt := r.nt
	if idx == r.shortSlice {
		nt--
	}
	locs := make([]int, r.bands)
	for b := range locs {
		locs[b] = idx + b*r.numSlices
	}
	vol := mrdata.NewVolume(r.nx, r.ny, r.bands, nt)
	for b, loc := range locs {
		for tp := 0; tp < nt; tp++ {
			for y := 0; y < r.ny; y++ {
				for x := 0; x < r.nx; x++ {
					vol.Set(float32(loc*100+tp*10+x), x, y, b, tp)
				}
			}
		}
	}
	return WriteSliceFile(out, locs, vol)
}

func muxDataset() *mrdata.Dataset {
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDMuxEPI
	ds.NumSlices = 2
	ds.NumBands = 2
	ds.NumMuxCalCycle = 2
	ds.NumTimepoints = 3
	ds.SizeX, ds.SizeY = 4, 4
	ds.FOVX, ds.FOVY = 192, 192
	ds.TR = 2
	return ds
}

func TestMuxRecon(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := muxDataset()
	r := &muxRunner{numSlices: 2, bands: 2, nx: 4, ny: 4, nt: 3, shortSlice: 1}
	opts := &Options{Runner: r, MaxJobs: 2}
	if err := Reconstruct(context.Background(), ds, f, nil, opts); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	vol := ds.Primary()
	if vol == nil {
		t.Fatal("no primary volume")
	}
	// Slice 1 finished one timepoint short, so the common count is kept.
	if !reflect.DeepEqual(vol.Dims, []int{4, 4, 4, 2}) {
		t.Fatalf("dims = %v, want [4 4 4 2]", vol.Dims)
	}
	if ds.NumTimepoints != 2 {
		t.Errorf("NumTimepoints = %d, want repaired to 2", ds.NumTimepoints)
	}
	if ds.Duration != 4 {
		t.Errorf("Duration = %v, want 2 timepoints x TR 2", ds.Duration)
	}
	if ds.MMPerVoxX != 48 {
		t.Errorf("MMPerVoxX = %v, want 192/4", ds.MMPerVoxX)
	}
	// Band 1 of slice job 1 lands at position 3; x is mirrored on load.
	if got := vol.At(1, 0, 3, 1); got != 300+10+2 {
		t.Errorf("voxel (1,0,3,1) = %v, want 312", got)
	}
	if got := vol.At(0, 2, 0, 0); got != 3 {
		t.Errorf("voxel (0,2,0,0) = %v, want 3", got)
	}
}

func TestMuxAuxCalibrationAndSense(t *testing.T) {
	calDir := filepath.Join(t.TempDir(), "calscan")
	if err := os.MkdirAll(calDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"P55555.7_ref.dat", "P55555.7_vrgf.dat"} {
		if err := os.WriteFile(filepath.Join(calDir, name), []byte("cal"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	aux := filepath.Join(t.TempDir(), "aux.tgz")
	if err := synth.TarGz(calDir, aux); err != nil {
		t.Fatal(err)
	}

	f, _ := testPFile(t, baseHeader(), nil)
	ds := muxDataset()
	ds.NumMuxCalCycle = 1
	ds.NumSlices = 1
	r := &muxRunner{numSlices: 1, bands: 2, nx: 4, ny: 4, nt: 3, shortSlice: -1}
	opts := &Options{Runner: r, AuxFile: aux, ReconType: "sense"}
	if err := Reconstruct(context.Background(), ds, f, nil, opts); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	if len(r.evals) != 1 {
		t.Fatalf("ran %d jobs, want 1", len(r.evals))
	}
	cal := strings.Split(r.evals[0], `"`)[5]
	if !strings.HasSuffix(cal, filepath.Join("calscan", "P55555.7")) {
		t.Errorf("calibration base = %q, want the extracted P55555.7 pair", cal)
	}
	if !strings.Contains(r.evals[0], ", 1, [], 0, 0, 1, 1, 0);") {
		t.Errorf("eval = %q, want slice 1 with the sense flag set", r.evals[0])
	}
}

func TestMuxMissingCalibrationFails(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := muxDataset()
	ds.NumMuxCalCycle = 0
	if err := Reconstruct(context.Background(), ds, f, nil, &Options{Runner: &muxRunner{}}); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !errors.Is(ds.FailureReason, ErrNoCalibration) {
		t.Errorf("FailureReason = %v, want ErrNoCalibration", ds.FailureReason)
	}
	if ds.Data != nil {
		t.Error("failed reconstruction left voxel data behind")
	}
}

func TestMuxJobFailureRecorded(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := muxDataset()
	r := &muxRunner{numSlices: 2, bands: 2, nx: 4, ny: 4, nt: 3, shortSlice: -1, fail: true}
	if err := Reconstruct(context.Background(), ds, f, nil, &Options{Runner: r}); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	var re *mrdata.ReconError
	if !errors.As(ds.FailureReason, &re) {
		t.Fatalf("FailureReason = %v, want a ReconError", ds.FailureReason)
	}
	if re.Strategy != string(mrdata.PSDMuxEPI) {
		t.Errorf("Strategy = %q", re.Strategy)
	}
	if ds.Data != nil {
		t.Error("failed reconstruction left voxel data behind")
	}
}

// spiralRunner writes the magnitude (and optionally field map) files the
// gridding binary would have left in the working directory.
type spiralRunner struct {
	mag      []float32
	fieldmap []float32
}

func (r *spiralRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	base := args[len(args)-1]
	if err := writeFloats(filepath.Join(dir, base+".mag_float"), r.mag); err != nil {
		return err
	}
	if r.fieldmap != nil {
		return writeFloats(filepath.Join(dir, base+".B0freq2"), r.fieldmap)
	}
	return nil
}

func writeFloats(path string, vals []float32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}

func TestSpiralRecon(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDSpiral
	ds.SizeX, ds.SizeY = 2, 2
	ds.NumSlices, ds.NumTimepoints, ds.NumEchos = 2, 2, 1
	ds.ReverseSliceOrder = true

	// Fortran order [x, y, t, e, s]: x fastest, slice slowest.
	mag := make([]float32, 2*2*2*1*2)
	i := 0
	for s := 0; s < 2; s++ {
		for tp := 0; tp < 2; tp++ {
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					mag[i] = float32(x + 10*y + 100*tp + 1000*s)
					i++
				}
			}
		}
	}
	r := &spiralRunner{mag: mag}
	if err := Reconstruct(context.Background(), ds, f, nil, &Options{Runner: r}); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	vol := ds.Primary()
	if vol == nil || !reflect.DeepEqual(vol.Dims, []int{2, 2, 2, 2, 1}) {
		t.Fatalf("primary dims = %v, want [2 2 2 2 1]", vol)
	}
	// The slice axis is reversed after reconstruction.
	if got := vol.At(1, 0, 0, 1, 0); got != 1+100+1000 {
		t.Errorf("voxel (1,0,0,1) = %v, want 1101", got)
	}
	if _, ok := ds.Data["fieldmap"]; ok {
		t.Error("field map appeared without a B0 output file")
	}
}

func TestSpiralTwoEchoAverage(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDSpiral
	ds.SizeX, ds.SizeY = 2, 2
	ds.NumSlices, ds.NumTimepoints, ds.NumEchos = 2, 2, 2

	// Echo 0 uniformly 1, echo 1 uniformly 3.
	n := 2 * 2 * 2 * 2 * 2
	mag := make([]float32, n)
	i := 0
	for s := 0; s < 2; s++ {
		for e := 0; e < 2; e++ {
			for tp := 0; tp < 2; tp++ {
				for y := 0; y < 2; y++ {
					for x := 0; x < 2; x++ {
						mag[i] = float32(1 + 2*e)
						i++
					}
				}
			}
		}
	}
	fm := make([]float32, 2*2*2*2)
	r := &spiralRunner{mag: mag, fieldmap: fm}
	if err := Reconstruct(context.Background(), ds, f, nil, &Options{Runner: r}); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	vol := ds.Primary()
	if vol == nil || !reflect.DeepEqual(vol.Dims, []int{2, 2, 2, 2}) {
		t.Fatalf("primary dims = %v, want echo-averaged [2 2 2 2]", vol)
	}
	// Weights are the per-echo mean magnitudes: (2*1 + 6*3) / 8.
	if got := vol.At(0, 0, 0, 0); got != 2.5 {
		t.Errorf("voxel (0,0,0,0) = %v, want 2.5", got)
	}
	fmVol := ds.Data["fieldmap"]
	if fmVol == nil || !reflect.DeepEqual(fmVol.Dims, []int{2, 2, 2, 2}) {
		t.Errorf("fieldmap dims = %v, want [2 2 2 2]", fmVol)
	}
}

func TestMRSRecon(t *testing.T) {
	h := baseHeader()
	h.Image.PSDName = "probe-p"
	data, err := pfile.EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	h.Rec.OffData = int32(len(data))

	// One echo block: a baseline frame then one 2-sample frame of int32
	// complex pairs (1+2i, 3+4i).
	payload := make([]byte, 32)
	for i, v := range []int32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(payload[16+4*i:], uint32(v))
	}
	f, _ := testPFile(t, h, payload)
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDMRS

	if err := Reconstruct(context.Background(), ds, f, h, nil); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	vol := ds.Primary()
	if vol == nil || !reflect.DeepEqual(vol.Dims, []int{2, 2, 1, 1, 1, 1, 1}) {
		t.Fatalf("primary dims = %v", vol)
	}
	if vol.At(0, 0, 0, 0, 0, 0, 0) != 1 || vol.At(1, 0, 0, 0, 0, 0, 0) != 2 || vol.At(0, 1, 0, 0, 0, 0, 0) != 3 {
		t.Errorf("sample values = %v", vol.Data)
	}
}

func TestReconstructShimIsNonImage(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDHoshim
	if err := Reconstruct(context.Background(), ds, f, nil, nil); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !ds.IsNonImage {
		t.Error("shim scan not flagged non-image")
	}
	if ds.Data != nil || ds.FailureReason != nil {
		t.Errorf("shim scan produced data=%v failure=%v", ds.Data, ds.FailureReason)
	}
}

func TestReconstructNoStrategy(t *testing.T) {
	f, _ := testPFile(t, baseHeader(), nil)
	ds := mrdata.NewDataset()
	ds.PSDType = mrdata.PSDEPI
	if err := Reconstruct(context.Background(), ds, f, nil, nil); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if ds.Data != nil || ds.FailureReason != nil || ds.IsNonImage {
		t.Error("sequence without a strategy should leave the dataset untouched")
	}
}

func TestTransposeAxes(t *testing.T) {
	v := mrdata.NewVolume(2, 3, 4)
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	got := transposeAxes(v, []int{2, 0, 1})
	if !reflect.DeepEqual(got.Dims, []int{4, 2, 3}) {
		t.Fatalf("dims = %v", got.Dims)
	}
	for x := 0; x < 2; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 4; z++ {
				if got.At(z, x, y) != v.At(x, y, z) {
					t.Fatalf("mismatch at (%d,%d,%d)", x, y, z)
				}
			}
		}
	}
}

func TestEnsurePlain(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "P12345.7")
	if err := os.WriteFile(plain, []byte("raw bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ensurePlain(plain, dir)
	if err != nil || got != plain {
		t.Errorf("ensurePlain(plain) = %q, %v", got, err)
	}

	gz := filepath.Join(dir, "P12345.7.gz")
	if err := synth.GzipFile(plain, gz); err != nil {
		t.Fatal(err)
	}
	got, err = ensurePlain(gz, dir)
	if err != nil {
		t.Fatalf("ensurePlain(gz): %v", err)
	}
	if filepath.Base(got) != "P12345.7" {
		t.Errorf("decompressed name = %q", filepath.Base(got))
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "raw bytes" {
		t.Errorf("decompressed content = %q, %v", data, err)
	}
}
