package mrparse

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/dcm"
	"github.com/mrsinham/mrparse/internal/mrdata"
	"github.com/mrsinham/mrparse/internal/pfile"
	"github.com/mrsinham/mrparse/internal/recon"
	"github.com/mrsinham/mrparse/internal/stage"
)

// Reader is one format-specific parser bound to staged input files.
// Identification metadata is available immediately; LoadData performs the
// full parse and reconstruction.
type Reader interface {
	Metadata() *mrdata.Metadata
	LoadData(ctx context.Context) (*mrdata.Dataset, error)
	Close() error
}

// Registry maps a sidecar filetype name to a reader constructor. The
// default registry knows "dicom" and "pfile"; callers extend it through
// WithRegistry instead of mutating globals.
type Registry map[string]func(paths []string, cfg *config) (Reader, error)

// DefaultRegistry returns the built-in filetype registry.
func DefaultRegistry() Registry {
	return Registry{
		"dicom": newDICOMReader,
		"pfile": newPFileReader,
	}
}

// Acquisition is one parsed input: a reader plus the staging directory
// holding any extracted archive contents. Callers must Close it.
type Acquisition struct {
	// Filetype is the resolved strategy family ("dicom", "pfile", ...).
	Filetype string

	reader  Reader
	stg     *stage.Dir
	sidecar *stage.Sidecar
}

// Parse sniffs the input at path (tar/tgz or zip archive, bare P-file,
// bare DICOM file), stages archive contents, routes to the registered
// reader for the detected filetype and runs its minimal parse. An input
// matching no known signature fails with ErrFormat.
func Parse(path string, opts ...Option) (*Acquisition, error) {
	cfg := newConfig(opts)

	kind, err := sniffInput(path)
	if err != nil {
		return nil, err
	}

	a := &Acquisition{}
	paths := []string{path}
	switch kind {
	case inputTar, inputZip:
		a.stg, err = stage.New(cfg.recon.TempDir)
		if err != nil {
			return nil, err
		}
		if kind == inputTar {
			var f *os.File
			if f, err = os.Open(path); err == nil {
				paths, err = a.stg.ExtractTar(f)
				f.Close()
			}
		} else {
			paths, err = a.stg.ExtractZip(path)
		}
		if err != nil {
			a.stg.Close()
			return nil, err
		}
		a.sidecar = stage.FindSidecar(paths)
	}

	if kind == inputBare {
		switch {
		case pfile.IsPFile(path):
			a.Filetype = "pfile"
		case hasDICMPreamble(path):
			a.Filetype = "dicom"
		default:
			return nil, fmt.Errorf("%w: %s matches no known signature", mrdata.ErrFormat, path)
		}
	} else {
		a.Filetype = resolveFiletype(a.sidecar, paths)
	}
	construct, ok := cfg.registry[a.Filetype]
	if !ok {
		a.Close()
		return nil, fmt.Errorf("%w: no reader registered for filetype %q", mrdata.ErrFormat, a.Filetype)
	}
	a.reader, err = construct(paths, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.sidecar != nil {
		applySidecarHeader(a.reader.Metadata(), &a.sidecar.Header)
		applyOverwrite(a.reader.Metadata(), a.sidecar.Overwrite)
	}
	return a, nil
}

// Metadata returns the dataset metadata; identification fields are valid
// after Parse, the rest after LoadData.
func (a *Acquisition) Metadata() *mrdata.Metadata { return a.reader.Metadata() }

// LoadData runs the full parse and reconstruction. Reconstruction
// failures are recoverable: check Dataset.FailureReason even on success.
func (a *Acquisition) LoadData(ctx context.Context) (*mrdata.Dataset, error) {
	ds, err := a.reader.LoadData(ctx)
	if err != nil {
		return nil, err
	}
	if a.sidecar != nil {
		applySidecarHeader(&ds.Metadata, &a.sidecar.Header)
		applyOverwrite(&ds.Metadata, a.sidecar.Overwrite)
	}
	return ds, nil
}

// Close releases the reader and removes any staged archive contents.
func (a *Acquisition) Close() error {
	var err error
	if a.reader != nil {
		err = a.reader.Close()
	}
	if a.stg != nil {
		if cerr := a.stg.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type inputKind int

const (
	inputBare inputKind = iota
	inputTar
	inputZip
)

// sniffInput classifies the outer container from magic bytes: zip, tar
// (plain or gzipped), or a bare data file. Gzipped P-files are bare: the
// format readers decompress transparently.
func sniffInput(path string) (inputKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return inputBare, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
	}
	defer f.Close()

	var head [4]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return inputBare, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
	}
	if head[0] == 'P' && head[1] == 'K' && head[2] == 3 && head[3] == 4 {
		return inputZip, nil
	}
	if isTarStream(f, head) {
		return inputTar, nil
	}
	return inputBare, nil
}

// isTarStream reports whether the open file is a tar archive, looking for
// the ustar magic at offset 257 of the (possibly gzip-compressed) stream.
func isTarStream(f *os.File, head [4]byte) bool {
	if head[0] == 0x1f && head[1] == 0x8b {
		// A gzip stream is either a tgz or a compressed P-file; only the
		// decompressed payload can tell.
		name := strings.ToLower(f.Name())
		if strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".tar.gz") {
			return true
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return false
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			return false
		}
		block := make([]byte, 262)
		if _, err := io.ReadFull(gz, block); err != nil {
			return false
		}
		return string(block[257:262]) == "ustar"
	}
	var magic [5]byte
	if _, err := f.ReadAt(magic[:], 257); err != nil {
		return false
	}
	return string(magic[:]) == "ustar"
}

// hasDICMPreamble reports whether the file carries the DICM marker after
// the 128-byte preamble.
func hasDICMPreamble(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 128); err != nil {
		return false
	}
	return string(magic[:]) == "DICM"
}

// resolveFiletype picks the strategy family for an archive: the sidecar
// declaration wins, otherwise the staged files are probed for a P-file
// signature and fall back to DICOM.
func resolveFiletype(sc *stage.Sidecar, paths []string) string {
	if sc != nil && sc.Header.Filetype != "" {
		return sc.Header.Filetype
	}
	for _, p := range paths {
		if pfile.IsPFile(p) {
			return "pfile"
		}
	}
	return "dicom"
}

// applySidecarHeader folds the archive-level identifiers into the
// metadata. These are assigned upstream of the scanner and take
// precedence over anything parsed from the data files.
func applySidecarHeader(md *mrdata.Metadata, h *stage.SidecarHeader) {
	if h.Acquisition != "" {
		md.AcquisitionID = h.Acquisition
	}
	if h.Group != "" {
		md.GroupName = h.Group
	}
	if h.Project != "" {
		md.ExperimentName = h.Project
	}
	if h.Timestamp != "" {
		if t := mrdata.ParseTimestamp(h.Timestamp, ""); !t.IsZero() {
			md.Timestamp = t
		}
	}
}

// applyOverwrite forces sidecar-declared metadata fields after parsing.
// Values arrive as decoded JSON, so numbers are float64.
func applyOverwrite(md *mrdata.Metadata, overwrite map[string]any) {
	for key, val := range overwrite {
		switch key {
		case "exam_no":
			md.ExamNo = overwriteInt(key, val, md.ExamNo)
		case "series_no":
			md.SeriesNo = overwriteInt(key, val, md.SeriesNo)
		case "acq_no":
			md.AcqNo = overwriteInt(key, val, md.AcqNo)
		case "series_desc":
			md.SeriesDesc = overwriteString(key, val, md.SeriesDesc)
		case "psd_name":
			md.PSDName = overwriteString(key, val, md.PSDName)
		case "subject_code":
			md.SubjectCode = overwriteString(key, val, md.SubjectCode)
		case "group_name":
			md.GroupName = overwriteString(key, val, md.GroupName)
		case "experiment_name":
			md.ExperimentName = overwriteString(key, val, md.ExperimentName)
		case "acquisition_id":
			md.AcquisitionID = overwriteString(key, val, md.AcquisitionID)
		case "timestamp":
			if s, ok := val.(string); ok {
				if t := mrdata.ParseTimestamp(s, ""); !t.IsZero() {
					md.Timestamp = t
				}
			}
		default:
			log.Warnf("ignoring unknown overwrite field %q", key)
		}
	}
}

func overwriteInt(key string, val any, old int) int {
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	log.Warnf("overwrite field %q wants a number, got %T", key, val)
	return old
}

func overwriteString(key string, val any, old string) string {
	if s, ok := val.(string); ok {
		return s
	}
	log.Warnf("overwrite field %q wants a string, got %T", key, val)
	return old
}

// dicomReader adapts the DICOM series parser.
type dicomReader struct {
	p *dcm.Parser
}

func newDICOMReader(paths []string, _ *config) (Reader, error) {
	p, err := dcm.NewParser(paths)
	if err != nil {
		return nil, err
	}
	return &dicomReader{p: p}, nil
}

func (r *dicomReader) Metadata() *mrdata.Metadata { return r.p.Metadata() }

func (r *dicomReader) LoadData(ctx context.Context) (*mrdata.Dataset, error) {
	return r.p.LoadData()
}

func (r *dicomReader) Close() error { return nil }

// pfileReader adapts the raw-acquisition parser plus the reconstruction
// orchestrator.
type pfileReader struct {
	f    *pfile.File
	ds   *mrdata.Dataset
	cfg  *config
	done bool
}

func newPFileReader(paths []string, cfg *config) (Reader, error) {
	var f *pfile.File
	for _, p := range paths {
		pf, err := pfile.Open(p)
		if err != nil {
			log.Debugf("probe skipping %s: %v", p, err)
			continue
		}
		f = pf
		break
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no raw-acquisition file found", mrdata.ErrHeaderMissing)
	}
	ds := mrdata.NewDataset()
	if err := f.MinParse(&ds.Metadata); err != nil {
		f.Close()
		return nil, err
	}
	return &pfileReader{f: f, ds: ds, cfg: cfg}, nil
}

func (r *pfileReader) Metadata() *mrdata.Metadata { return &r.ds.Metadata }

func (r *pfileReader) LoadData(ctx context.Context) (*mrdata.Dataset, error) {
	if r.done {
		return r.ds, nil
	}
	h, err := r.f.FullParse(&r.ds.Metadata)
	if err != nil {
		return nil, err
	}
	if err := recon.Reconstruct(ctx, r.ds, r.f, h, &r.cfg.recon); err != nil {
		return nil, err
	}
	r.done = true
	return r.ds, nil
}

func (r *pfileReader) Close() error { return r.f.Close() }
