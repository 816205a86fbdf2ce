package pfile

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// File is an open P-file positioned for header decoding. Gzipped files are
// transparently decompressed.
type File struct {
	Path    string
	Version Version

	ra     io.ReaderAt
	closer io.Closer
}

// Open sniffs the compression and header revision of the file at path.
// A file whose magic bytes match no supported revision fails with
// ErrUnsupportedVersion; a bad vendor signature fails with ErrFormat.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pfile: %w", err)
	}

	var head [2]byte
	if _, err := f.ReadAt(head[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
	}

	pf := &File{Path: path, closer: f}
	if head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
		}
		raw, err := io.ReadAll(gz)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", mrdata.ErrFormat, err)
		}
		f.Close()
		pf.ra = bytes.NewReader(raw)
		pf.closer = nil
	} else {
		pf.ra = f
	}

	version, err := sniffVersion(pf.ra)
	if err != nil {
		pf.Close()
		return nil, err
	}
	pf.Version = version
	return pf, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// IsPFile reports whether the file at path carries a supported P-file
// signature.
func IsPFile(path string) bool {
	f, err := Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// MinParse reads the version-independent sort-critical offsets plus the
// per-revision identifier anchors, enough to classify and route the file
// without a full layout decode. The psd-specific timepoint overrides are
// applied so downstream sorting sees the effective repetition count.
func (f *File) MinParse(md *mrdata.Metadata) error {
	lay, ok := layouts[f.Version]
	if !ok {
		return fmt.Errorf("%w: revision %d", mrdata.ErrUnsupportedVersion, f.Version)
	}
	r := &reader{ra: f.ra}

	scanDate := r.str(lay.rec.scanDate, 10)
	scanTime := r.str(lay.rec.scanTime, 8)
	md.NumTimepoints = int(r.i16(lay.rec.npasses))
	md.NumEchos = int(r.i16(lay.rec.nechoes))
	recUser0 := r.f32(lay.rec.userOff)
	recUser6 := r.f32(lay.rec.userOff + 4*6)
	recUser7 := r.f32(lay.rec.userOff + 4*7)
	md.ILeaves = int(r.i16(lay.rec.ileaves))

	md.ExamNo = int(r.u16(lay.exam.examNo))
	md.ExamUID = r.uid(lay.exam.studyUID)
	md.PatientID = r.str(lay.exam.patientID, 65)
	md.SeriesNo = int(r.i16(lay.series.seriesNo))
	md.SeriesDesc = r.str(lay.series.desc, 65)
	md.SeriesUID = r.uid(lay.series.seriesUID)
	imDatetime := r.i32(lay.image.imDatetime)
	md.TR = float64(r.i32(lay.image.tr)) / 1e6
	md.AcqNo = int(r.i16(lay.image.scanActNo))
	md.PSDName = strings.ToLower(filepath.Base(r.str(lay.image.psdName, 33)))
	if r.err != nil {
		return r.err
	}

	md.Timestamp = scanTimestamp(imDatetime, scanDate, scanTime)
	md.PSDType = inferPSDType(md.PSDName, recUser6)

	switch md.PSDType {
	case mrdata.PSDSpiral:
		md.NumTimepoints = int(recUser0)
	case mrdata.PSDBasic:
		md.NumTimepoints = (md.NumTimepoints*md.NumEchos - 6) / 2
	case mrdata.PSDMuxEPI:
		md.NumTimepoints += int(recUser6) * md.ILeaves * (int(recUser7) - 1)
	}
	md.PrescribedDuration = float64(md.NumTimepoints) * md.TR
	md.SubjectCode, md.GroupName, md.ExperimentName = mrdata.ParsePatientID(md.PatientID, fmt.Sprintf("ex%d", md.ExamNo))
	return nil
}

// inferPSDType wraps the shared name heuristic with the P-file-only
// correction for mis-named multiband scans: a sequence calling itself epi
// while reporting simultaneous bands in user CV 6 is really muxepi.
func inferPSDType(psdName string, recUser6 float32) mrdata.PSDType {
	t := mrdata.InferPSDType(psdName)
	if t == mrdata.PSDEPI && int(recUser6) > 0 {
		t = mrdata.PSDMuxEPI
	}
	return t
}

// FullParse decodes the complete per-revision header layout and populates
// the metadata, including the sequence-specific overrides and the
// patient-space affine.
func (f *File) FullParse(md *mrdata.Metadata) (*Header, error) {
	h, err := decodeHeader(f.ra, f.Version)
	if err != nil {
		return nil, err
	}
	applyHeader(h, md)
	return h, nil
}

func applyHeader(h *Header, md *mrdata.Metadata) {
	md.ExamNo = int(h.Exam.ExamNo)
	md.ExamUID = h.Exam.StudyUID
	md.SeriesNo = int(h.Series.SeriesNo)
	md.SeriesDesc = h.Series.Desc
	md.SeriesUID = h.Series.SeriesUID
	md.AcqNo = int(h.Image.ScanActNo)
	md.PatientID = h.Exam.PatientID
	md.SubjectCode, md.GroupName, md.ExperimentName = mrdata.ParsePatientID(md.PatientID, fmt.Sprintf("ex%d", md.ExamNo))
	md.SubjFirstName, md.SubjLastName = mrdata.ParsePatientName(h.Exam.PatientName)
	md.SubjDOB = mrdata.ParsePatientDOB(h.Exam.DateOfBirth)
	switch h.Exam.PatSex {
	case 1:
		md.SubjSex = "male"
	case 2:
		md.SubjSex = "female"
	}

	md.PSDName = strings.ToLower(filepath.Base(h.Image.PSDName))
	md.Timestamp = scanTimestamp(h.Image.ImDatetime, h.Rec.ScanDate, h.Rec.ScanTime)

	md.TI = float64(h.Image.TI) / 1e6
	md.TE = float64(h.Image.TE) / 1e6
	md.TR = float64(h.Image.TR) / 1e6
	md.FlipAngle = float64(h.Image.Flip)
	md.PixelBandwidth = float64(h.Rec.Bandwidth)
	// GE numbers the encode dims from 1, so freq_dir==1 means the first
	// dim is frequency and the second is phase.
	if h.Image.FreqDir == 1 {
		md.PhaseEncode = 1
	} else {
		md.PhaseEncode = 0
	}
	md.NumSlices = int(h.Image.SlQuant)
	md.NumAverages = int(h.Image.Averages)
	md.NumEchos = int(h.Rec.NEchoes)
	md.ReceiveCoilName = h.Image.CoilName
	md.NumReceivers = int(h.Rec.DabStop-h.Rec.DabStart) + 1
	md.Operator = h.Exam.Operator
	md.ProtocolName = h.Series.Protocol
	md.ScannerName = strings.TrimSpace(h.Exam.HospName + " " + h.Exam.SysID)
	md.Manufacturer = "GE MEDICAL SYSTEMS"
	md.SizeX = int(h.Image.DimX)
	md.SizeY = int(h.Image.DimY)
	md.FOVX = float64(h.Image.DFOV)
	md.FOVY = float64(h.Image.DFOVRect)
	md.NumBands = 1
	md.NumMuxCalCycle = 0
	md.ILeaves = int(h.Rec.ILeaves)
	md.NumTimepoints = int(h.Rec.NPasses)
	// Some sequences acquire more timepoints than the recon will emit;
	// track the expected output count separately.
	md.NumTimepointsAvailable = md.NumTimepoints

	if md.SizeX > 0 && md.SizeY > 0 {
		md.SetMMPerVox([3]float64{
			md.FOVX / float64(md.SizeX),
			md.FOVY / float64(md.SizeY),
			float64(h.Image.SlThick + h.Image.ScanSpacing),
		})
	}
	tlhc := vec3(h.Image.TLHC)
	trhc := vec3(h.Image.TRHC)
	brhc := vec3(h.Image.BRHC)

	md.PSDType = inferPSDType(md.PSDName, h.Rec.User[6])
	switch md.PSDType {
	case mrdata.PSDSpiral:
		md.NumTimepoints = int(h.Rec.User[0])
		// Spiral recon emits a square matrix at the reconstructed size.
		md.SizeX = int(h.Rec.ImSize)
		md.SizeY = md.SizeX
		if md.SizeX > 0 {
			md.MMPerVoxX = md.FOVX / float64(md.SizeX)
			md.MMPerVoxY = md.MMPerVoxX
		}
	case mrdata.PSDBasic:
		// The first six passes are reference scans and two acquired
		// timepoints produce one reconstructed timepoint.
		md.NumTimepoints = (int(h.Rec.NPasses)*int(h.Rec.NEchoes) - 6) / 2
		md.NumEchos = 1
	case mrdata.PSDMuxEPI:
		md.NumBands = int(h.Rec.User[6])
		md.NumMuxCalCycle = int(h.Rec.User[7])
		md.BandSpacingMM = float64(h.Rec.User[8])
		// ARC calibration is multi-shot, adding num_bands*(ileaves-1)
		// TRs per calibration cycle to the acquisition.
		md.NumTimepoints = int(h.Rec.NPasses) + md.NumBands*(md.ILeaves-1)*md.NumMuxCalCycle
		md.NumTimepointsAvailable = int(h.Rec.NPasses) - md.NumBands*md.NumMuxCalCycle + md.NumMuxCalCycle
	case mrdata.PSDMRS:
		md.SetMMPerVox([3]float64{
			float64(h.Rec.RoiLen[1]),
			float64(h.Rec.RoiLen[0]),
			float64(h.Rec.RoiLen[2]),
		})
		tlhc = [3]float64{
			-float64(h.Rec.RoiLoc[0]) - md.MMPerVoxX/2,
			float64(h.Rec.RoiLoc[1]) + md.MMPerVoxY/2,
			float64(h.Rec.RoiLoc[2]) - md.MMPerVoxY/2,
		}
		trhc = [3]float64{tlhc[0] - md.MMPerVoxX, tlhc[1], tlhc[2]}
		brhc = [3]float64{trhc[0], trhc[1] + md.MMPerVoxY, trhc[2]}
	}

	md.PrescribedDuration = float64(md.NumTimepoints) * md.TR
	md.TotalNumSlices = md.NumSlices * md.NumTimepoints
	md.Duration = md.PrescribedDuration
	md.EffectiveEchoSpacing = float64(h.Image.EffEchoSpace) / 1e6
	if md.ILeaves > 0 {
		md.PhaseEncodeUndersample = 1 / float64(md.ILeaves)
	}
	md.SliceEncodeUndersample = 1
	md.AcquisitionMatrixX = int(h.Rec.RcXRes)
	md.AcquisitionMatrixY = int(h.Rec.RcYRes)

	md.DwiNumDirs = int(h.Rec.NumDifDirs)
	// The per-image b-value field only reflects the first (usually
	// non-dwi) image, so the real value lives in a user CV; it moved
	// between revisions.
	if h.Version == V24 {
		md.DwiBValue = float64(h.Rec.User[1])
	} else {
		md.DwiBValue = float64(h.Rec.User[22])
	}
	md.IsDWI = md.DwiNumDirs >= 6
	if md.IsDWI && md.DwiBValue == 0 {
		log.Warn("diffusion-weighted header with zero b-value, setting it to 10")
		md.DwiBValue = 10
	}
	md.PartialKy = h.Rec.ScanType&16 > 0
	if h.Rec.DacqCtrl&4 == 4 {
		md.PhaseEncodeDirection = 1
	} else {
		md.PhaseEncodeDirection = 0
	}
	md.CAIPI = int(h.Rec.User[13])
	md.CapBlipStart = int(h.Rec.User[14])
	md.CapBlipInc = int(h.Rec.User[15])
	md.MICA = int(h.Rec.User[17])
	if md.NumSlices > 0 {
		md.SliceDuration = md.TR / float64(md.NumSlices)
	}

	md.SliceOrder = mrdata.SliceOrderUnknown
	switch h.Series.SortOrder {
	case 0:
		md.SliceOrder = mrdata.SliceOrderSeqInc
	case 1:
		md.SliceOrder = mrdata.SliceOrderAltInc
	}

	applyGeometry(h, md, tlhc, trhc, brhc)
	md.InferScanType()
	if md.PSDType == mrdata.PSDMuxEPI && md.NumMuxCalCycle < 2 {
		log.Warn("muxepi without own calibration, an auxiliary calibration archive is required to reconstruct")
	}
}

func vec3(v [3]float32) [3]float64 {
	return [3]float64{float64(v[0]), float64(v[1]), float64(v[2])}
}

// applyGeometry derives the patient-space affine from the three corner
// points and the header normal. The slice-order reversal for axials whose
// acquisition started superior/inferior, and the left/right flip for
// anterior/posterior starts, are vendor-quirk compatibility rules tuned
// against scanner output rather than first-principles geometry.
func applyGeometry(h *Header, md *mrdata.Metadata, tlhc, trhc, brhc [3]float64) {
	lrDiff := [3]float64{trhc[0] - tlhc[0], trhc[1] - tlhc[1], trhc[2] - tlhc[2]}
	siDiff := [3]float64{trhc[0] - brhc[0], trhc[1] - brhc[1], trhc[2] - brhc[2]}
	var rowCos, colCos [3]float64
	if lrDiff != [3]float64{} && siDiff != [3]float64{} {
		rowCos = mrdata.Normalize(lrDiff)
		colCos = mrdata.Normalize(siDiff)
		colCos = [3]float64{-colCos[0], -colCos[1], -colCos[2]}
	} else {
		rowCos = [3]float64{1, 0, 0}
		colCos = [3]float64{0, -1, 0}
	}

	// Header geometry is LPS; negate R and A for RAS.
	sliceNorm := [3]float64{-float64(h.Image.Norm[0]), -float64(h.Image.Norm[1]), float64(h.Image.Norm[2])}

	startRAS := h.Series.StartRAS
	startGreater := h.Series.StartLoc > h.Series.EndLoc
	imagePosition := tlhc
	md.ReverseSliceOrder = false
	if (startRAS == 'S' || startRAS == 'I') && startGreater {
		md.ReverseSliceOrder = true
		sliceFOV := float64(h.Series.StartLoc - h.Series.EndLoc)
		if sliceFOV < 0 {
			sliceFOV = -sliceFOV
		}
		imagePosition = [3]float64{
			tlhc[0] - sliceNorm[0]*sliceFOV,
			tlhc[1] - sliceNorm[1]*sliceFOV,
			tlhc[2] - sliceNorm[2]*sliceFOV,
		}
	}

	md.FlipLR = false
	if (startRAS == 'A' || startRAS == 'P') && startGreater {
		sliceNorm = [3]float64{-sliceNorm[0], -sliceNorm[1], -sliceNorm[2]}
		md.FlipLR = true
	}

	if md.NumBands > 1 {
		shift := md.BandSpacingMM * float64(md.NumBands-1) / 2
		imagePosition = [3]float64{
			imagePosition[0] - sliceNorm[0]*shift,
			imagePosition[1] - sliceNorm[1]*shift,
			imagePosition[2] - sliceNorm[2]*shift,
		}
	}

	// The p-file convention puts coordinates at the voxel corner; DICOM
	// and NIFTI use the center, so shift by half a voxel.
	mm := md.MMPerVox()
	origin := [3]float64{
		imagePosition[0] + (rowCos[0]+colCos[0])*mm[0]/2,
		imagePosition[1] + (rowCos[1]+colCos[1])*mm[1]/2,
		imagePosition[2] + (rowCos[2]+colCos[2])*mm[2]/2,
	}

	// The header stores LPS unit vectors; flip x and y so the row points
	// right and the column points up.
	rowCos[0], rowCos[1] = -rowCos[0], -rowCos[1]
	colCos[0], colCos[1] = -colCos[0], -colCos[1]

	md.Rotation = mrdata.ComputeRotation(rowCos, colCos, sliceNorm)
	md.Affine = mrdata.BuildAffine(md.Rotation, mm, origin)
}

// scanTimestamp prefers the per-image unix timestamp and falls back to the
// rec-section scan date and time, whose two-digit year counts from 1900.
func scanTimestamp(imDatetime int32, scanDate, scanTime string) time.Time {
	if imDatetime > 0 {
		return time.Unix(int64(imDatetime), 0).UTC()
	}
	var month, day, year, hour, minute int
	if _, err := fmt.Sscanf(scanDate, "%d/%d/%d", &month, &day, &year); err != nil {
		return time.Time{}
	}
	if _, err := fmt.Sscanf(scanTime, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}
	}
	return time.Date(year+1900, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}
