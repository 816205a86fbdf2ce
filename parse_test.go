package mrparse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/synth"
)

// writeSeries renders a default GE MR series into a fresh directory.
func writeSeries(t *testing.T, s *synth.Series) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "series")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(dir); err != nil {
		t.Fatal(err)
	}
	return dir
}

// writePFile encodes a plausible functional EPI P-file header.
func writePFile(t *testing.T, dir string) string {
	t.Helper()
	h := &pfile.Header{Version: pfile.V24}
	h.Rec = pfile.RecSection{
		RunInt:    12345,
		ScanDate:  "05/11/10",
		ScanTime:  "14:02",
		NPasses:   10,
		NSlices:   40,
		NEchoes:   1,
		FrameSize: 64,
		PointSize: 4,
		DabStop:   31,
		RcXRes:    64,
		RcYRes:    64,
		ILeaves:   1,
	}
	h.Exam = pfile.ExamSection{
		ExamNo:    4628,
		StudyUID:  "1.2.840.113619.6.283",
		PatientID: "sub01@cni/testscan",
	}
	h.Series = pfile.SeriesSection{
		SeriesNo:  5,
		Desc:      "BOLD EPI",
		SeriesUID: "1.2.840.113619.2.283.4628.5",
	}
	h.Image = pfile.ImageSection{
		TR:      2000000,
		TE:      30000,
		SlQuant: 40,
		DimX:    64,
		DimY:    64,
		DFOV:    240,
		Norm:    [3]float32{0, 0, 1},
		PSDName: "epi",
	}
	data, err := pfile.EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "P12345.7")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseZipSeries(t *testing.T) {
	dir := writeSeries(t, &synth.Series{})
	zipPath := filepath.Join(t.TempDir(), "series.zip")
	if err := synth.Zip(dir, zipPath); err != nil {
		t.Fatal(err)
	}

	a, err := Parse(zipPath)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	if a.Filetype != "dicom" {
		t.Errorf("Filetype = %q, want dicom", a.Filetype)
	}
	if a.Metadata().ExamNo != 4628 {
		t.Errorf("ExamNo = %d", a.Metadata().ExamNo)
	}
	ds, err := a.LoadData(context.Background())
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if ds.FailureReason != nil {
		t.Fatalf("FailureReason = %v", ds.FailureReason)
	}
	vol := ds.Primary()
	if vol == nil || vol.Dim(2) != 3 {
		t.Errorf("primary volume = %v, want 3 slices", vol)
	}
}

func TestParseTgzSidecarOverwrite(t *testing.T) {
	dir := writeSeries(t, &synth.Series{})
	sidecar := `{
		"header": {"filetype": "dicom", "group": "cni", "project": "testscan"},
		"overwrite": {"series_desc": "forced description", "exam_no": 9999, "bogus": 1}
	}`
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}
	tgz := filepath.Join(t.TempDir(), "series.tgz")
	if err := synth.TarGz(dir, tgz); err != nil {
		t.Fatal(err)
	}

	a, err := Parse(tgz)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	if a.Filetype != "dicom" {
		t.Errorf("Filetype = %q", a.Filetype)
	}
	md := a.Metadata()
	if md.GroupName != "cni" || md.ExperimentName != "testscan" {
		t.Errorf("group/experiment = %q/%q", md.GroupName, md.ExperimentName)
	}
	if md.SeriesDesc != "forced description" || md.ExamNo != 9999 {
		t.Errorf("overwrite not applied: desc=%q exam=%d", md.SeriesDesc, md.ExamNo)
	}
	ds, err := a.LoadData(context.Background())
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if ds.SeriesDesc != "forced description" {
		t.Errorf("overwrite lost after full load: %q", ds.SeriesDesc)
	}
}

func TestParseBarePFile(t *testing.T) {
	path := writePFile(t, t.TempDir())
	a, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	if a.Filetype != "pfile" {
		t.Fatalf("Filetype = %q, want pfile", a.Filetype)
	}
	md := a.Metadata()
	if md.ExamNo != 4628 || md.SeriesNo != 5 || md.PSDName != "epi" {
		t.Errorf("identification = %d/%d/%q", md.ExamNo, md.SeriesNo, md.PSDName)
	}
	ds, err := a.LoadData(context.Background())
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if ds.FailureReason != nil {
		t.Errorf("FailureReason = %v", ds.FailureReason)
	}
	// EPI converts from DICOM, not from raw data; metadata only.
	if ds.TE != 0.03 || ds.NumSlices != 40 {
		t.Errorf("TE/slices = %v/%d", ds.TE, ds.NumSlices)
	}
	if ds.Data != nil {
		t.Error("epi raw file unexpectedly produced voxel data")
	}
}

func TestParsePFileTgz(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scan")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writePFile(t, dir)
	sidecar := `{"header": {"filetype": "pfile", "timestamp": "2010-05-11 14:02"}}`
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}
	tgz := filepath.Join(t.TempDir(), "scan.tgz")
	if err := synth.TarGz(dir, tgz); err != nil {
		t.Fatal(err)
	}

	a, err := Parse(tgz)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	if a.Filetype != "pfile" {
		t.Fatalf("Filetype = %q, want pfile", a.Filetype)
	}
	want := time.Date(2010, 5, 11, 14, 2, 0, 0, time.UTC)
	if !a.Metadata().Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want sidecar value", a.Metadata().Timestamp)
	}
}

func TestParseUnrecognizedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mystery.bin")
	if err := os.WriteFile(path, []byte("neither fish nor fowl, but long enough to sniff"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(path); !errors.Is(err, mrdata.ErrFormat) {
		t.Errorf("Parse = %v, want ErrFormat", err)
	}
}

func TestParseUnknownFiletype(t *testing.T) {
	dir := writeSeries(t, &synth.Series{})
	sidecar := `{"header": {"filetype": "nifti"}}`
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}
	tgz := filepath.Join(t.TempDir(), "series.tgz")
	if err := synth.TarGz(dir, tgz); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tgz); !errors.Is(err, mrdata.ErrFormat) {
		t.Errorf("Parse = %v, want ErrFormat for unregistered filetype", err)
	}
}

func TestParseBareDICOMFile(t *testing.T) {
	dir := writeSeries(t, &synth.Series{NumSlices: 1})
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("ReadDir: %v", err)
	}
	a, err := Parse(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer a.Close()
	if a.Filetype != "dicom" {
		t.Errorf("Filetype = %q, want dicom", a.Filetype)
	}
}

func TestApplyOverwriteTypes(t *testing.T) {
	md := &mrdata.Metadata{SeriesDesc: "orig", ExamNo: 1}
	applyOverwrite(md, map[string]any{
		"exam_no":     float64(77),
		"series_desc": "new",
		"series_no":   "not a number",
		"unknown":     true,
	})
	if md.ExamNo != 77 || md.SeriesDesc != "new" {
		t.Errorf("overwrite = %d/%q", md.ExamNo, md.SeriesDesc)
	}
	if md.SeriesNo != 0 {
		t.Errorf("mistyped value overwrote SeriesNo = %d", md.SeriesNo)
	}
}
