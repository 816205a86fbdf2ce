package mrdata

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Metadata is the canonical typed property bag for one acquisition. It is
// populated incrementally: identification fields at minimal-parse time,
// series-wide and geometry fields during full load. The zero value of a
// numeric field means "not reported by the scanner".
type Metadata struct {
	// Identification.
	ExamNo    int
	SeriesNo  int
	AcqNo     int
	ExamUID   string
	SeriesUID string
	// AcquisitionID is a sidecar-supplied stable id overriding the
	// series-uid based default.
	AcquisitionID string
	SeriesDesc    string

	// Subject.
	PatientID      string
	SubjectCode    string
	GroupName      string
	ExperimentName string
	SubjFirstName  string
	SubjLastName   string
	SubjDOB        time.Time
	SubjSex        string

	// Instrument.
	Manufacturer      string
	ManufacturerModel string
	ScannerName       string
	Operator          string

	// Sequence.
	ProtocolName    string
	PSDName         string
	PSDIName        string
	PSDType         PSDType
	ScanType        ScanType
	TR              float64 // seconds
	TE              float64 // seconds
	TI              float64 // seconds
	FlipAngle       float64
	PixelBandwidth  float64
	MTOffsetHz      float64
	AcquisitionType string // "2D" or "3D"
	NumAverages     int
	NumEchos        int
	ReceiveCoilName string
	NumReceivers    int

	// Counts.
	NumSlices              int
	NumTimepoints          int
	NumTimepointsAvailable int
	TotalNumSlices         int
	NumBands               int
	NumMuxCalCycle         int
	ILeaves                int

	// Geometry.
	SizeX, SizeY                           int
	FOVX, FOVY                             float64
	MMPerVoxX, MMPerVoxY, MMPerVoxZ        float64
	AcquisitionMatrixX, AcquisitionMatrixY int
	Affine                                 *mat.Dense // 4x4 voxel-to-patient transform
	Rotation                               *mat.Dense // 3x3 image rotation, feeds bvec adjustment
	BandSpacingMM                          float64

	// Encoding.
	EffectiveEchoSpacing   float64
	PhaseEncode            int // 0 = row axis, 1 = column axis
	PhaseEncodeDirection   int // polarity; -1, 0 (unknown) or 1
	PhaseEncodeUndersample float64
	SliceEncodeUndersample float64
	PartialKy              bool
	CAIPI                  int
	CapBlipStart           int
	CapBlipInc             int
	MICA                   int

	// Timing.
	Timestamp          time.Time
	Duration           float64 // seconds
	PrescribedDuration float64 // seconds
	SliceDuration      float64 // seconds
	SliceOrder         SliceOrder
	ReverseSliceOrder  bool
	FlipLR             bool

	// Classification.
	IsDWI        bool
	IsLocalizer  bool
	IsMulticoil  bool
	IsNonImage   bool
	IsScreenshot bool

	// Diffusion.
	DwiNumDirs int
	DwiBValue  float64
	BVals      []float64
	BVecs      [3][]float64
}

// MMPerVox returns the voxel size as a 3-vector.
func (m *Metadata) MMPerVox() [3]float64 {
	return [3]float64{m.MMPerVoxX, m.MMPerVoxY, m.MMPerVoxZ}
}

// SetMMPerVox sets the voxel size from a 3-vector.
func (m *Metadata) SetMMPerVox(v [3]float64) {
	m.MMPerVoxX, m.MMPerVoxY, m.MMPerVoxZ = v[0], v[1], v[2]
}

// ParsePatientID splits a "subjcode@group/experiment" patient id. When the
// id carries no subject code the supplied default (typically "ex" + exam
// number) is used instead.
func ParsePatientID(patientID, defaultSubjCode string) (subjCode, groupName, expName string) {
	if patientID != "" {
		trimmed := strings.ToLower(strings.Trim(patientID, "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~ \t\n\r"))
		code, labInfo, found := cutLast(trimmed, "@")
		if !found {
			labInfo = code
			code = ""
		}
		subjCode = code
		groupName, expName, _ = strings.Cut(labInfo, "/")
	}
	if subjCode == "" {
		subjCode = defaultSubjCode
	}
	return subjCode, groupName, expName
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// ParsePatientName splits a DICOM person name into first and last name.
// Accepts "last^first" and "first last"; a single token is all last name.
func ParsePatientName(name string) (firstName, lastName string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	if last, first, ok := strings.Cut(name, "^"); ok {
		firstName, lastName = first, last
	} else if i := strings.LastIndexAny(name, " \t"); i >= 0 {
		firstName, lastName = name[:i], strings.TrimSpace(name[i:])
	} else {
		firstName, lastName = "", name
	}
	return title(firstName), title(lastName)
}

func title(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// ParsePatientDOB parses a YYYYMMDD date of birth. Dates before 1900 are
// scanner placeholders and are rejected.
func ParsePatientDOB(dob string) time.Time {
	t, err := time.Parse("20060102", dob)
	if err != nil || t.Before(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)) {
		return time.Time{}
	}
	return t
}

// ParseTimestamp combines a DICOM date (YYYYMMDD) and time (HHMMSS, with
// optional fractional seconds) into one timestamp. Non-standard strings,
// as seen in hand-edited sidecars, fall back to lenient parsing.
func ParseTimestamp(date, tod string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if len(tod) > 6 {
		tod = tod[:6]
	}
	if t, err := time.Parse("20060102150405", date+tod); err == nil {
		return t
	}
	t, err := dateparse.ParseAny(date + " " + tod)
	if err != nil {
		log.Debugf("unparseable timestamp %q %q", date, tod)
		return time.Time{}
	}
	return t
}
