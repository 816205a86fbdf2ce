// Package synth builds synthetic scanner output for tests: DICOM series
// with vendor private tags, and archives wrapping them the way scanners
// deliver data.
package synth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// Series describes one synthetic DICOM series. Zero fields fall back to
// a plausible GE functional scan; tests override what they exercise.
type Series struct {
	Manufacturer string
	SOPClassUID  string
	ImageType    []string

	StudyID   string
	StudyUID  string
	SeriesNo  int
	SeriesUID string

	PatientID   string
	PatientName string
	BirthDate   string
	Sex         string

	SeriesDesc   string
	ProtocolName string
	StudyDate    string
	StudyTime    string
	Institution  string
	Station      string
	Model        string

	Rows, Cols     int
	PixelSpacing   float64
	SliceThickness float64
	SliceSpacing   float64
	TR, TE         float64 // milliseconds
	FlipAngle      float64

	NumSlices         int
	NumTimepoints     int
	TemporalPositions int // NumberOfTemporalPositions; 0 omits the tag
	ImagesInAcq       int // ImagesInAcquisition; 0 omits the tag

	Orientation [6]float64
	Origin      [3]float64

	// Extra supplies per-instance vendor elements. Called with zero-based
	// slice and timepoint indices.
	Extra func(slice, timepoint int) []*dicom.Element

	// Pixel overrides the default gradient fill.
	Pixel func(slice, timepoint, x, y int) uint16

	// Instance overrides the default volume-major instance numbering.
	Instance func(slice, timepoint int) int
}

func (s *Series) setDefaults() {
	if s.Manufacturer == "" {
		s.Manufacturer = "GE MEDICAL SYSTEMS"
	}
	if s.SOPClassUID == "" {
		s.SOPClassUID = "1.2.840.10008.5.1.4.1.1.4"
	}
	if s.ImageType == nil {
		s.ImageType = []string{"ORIGINAL", "PRIMARY", "OTHER"}
	}
	if s.StudyID == "" {
		s.StudyID = "4628"
	}
	if s.StudyUID == "" {
		s.StudyUID = "1.2.840.113619.6.283.4628"
	}
	if s.SeriesNo == 0 {
		s.SeriesNo = 5
	}
	if s.SeriesUID == "" {
		s.SeriesUID = fmt.Sprintf("%s.%d", s.StudyUID, s.SeriesNo)
	}
	if s.PatientID == "" {
		s.PatientID = "sub01@cni/testscan"
	}
	if s.PatientName == "" {
		s.PatientName = "Doe^Jane"
	}
	if s.BirthDate == "" {
		s.BirthDate = "19850213"
	}
	if s.Sex == "" {
		s.Sex = "F"
	}
	if s.StudyDate == "" {
		s.StudyDate = "20100511"
	}
	if s.StudyTime == "" {
		s.StudyTime = "140200"
	}
	if s.Rows == 0 {
		s.Rows = 8
	}
	if s.Cols == 0 {
		s.Cols = 8
	}
	if s.PixelSpacing == 0 {
		s.PixelSpacing = 3.75
	}
	if s.SliceThickness == 0 {
		s.SliceThickness = 4
	}
	if s.SliceSpacing == 0 {
		s.SliceSpacing = 5
	}
	if s.TR == 0 {
		s.TR = 2000
	}
	if s.TE == 0 {
		s.TE = 30
	}
	if s.FlipAngle == 0 {
		s.FlipAngle = 77
	}
	if s.NumSlices == 0 {
		s.NumSlices = 3
	}
	if s.NumTimepoints == 0 {
		s.NumTimepoints = 1
	}
	if s.Orientation == ([6]float64{}) {
		s.Orientation = [6]float64{1, 0, 0, 0, 1, 0}
	}
}

// Write renders the series into dir, one file per slice and timepoint,
// and returns the file paths in write order.
func (s *Series) Write(dir string) ([]string, error) {
	s.setDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	rowCos := [3]float64{s.Orientation[0], s.Orientation[1], s.Orientation[2]}
	colCos := [3]float64{s.Orientation[3], s.Orientation[4], s.Orientation[5]}
	norm := mrdata.Cross(rowCos, colCos)

	var paths []string
	for t := 0; t < s.NumTimepoints; t++ {
		for sl := 0; sl < s.NumSlices; sl++ {
			instance := t*s.NumSlices + sl + 1
			if s.Instance != nil {
				instance = s.Instance(sl, t)
			}
			pos := [3]float64{
				s.Origin[0] + float64(sl)*s.SliceSpacing*norm[0],
				s.Origin[1] + float64(sl)*s.SliceSpacing*norm[1],
				s.Origin[2] + float64(sl)*s.SliceSpacing*norm[2],
			}
			path := filepath.Join(dir, fmt.Sprintf("MR%04d.dcm", instance))
			if err := s.writeInstance(path, sl, t, instance, pos); err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (s *Series) writeInstance(path string, slice, timepoint, instance int, pos [3]float64) error {
	width, height := s.Cols, s.Rows
	native := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint16((x + y + slice + timepoint) % 4096)
			if s.Pixel != nil {
				v = s.Pixel(slice, timepoint, x, y)
			}
			native.RawData[y*width+x] = v
		}
	}
	pixelData := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: native}},
	}

	orientation := make([]string, 6)
	for i, v := range s.Orientation {
		orientation[i] = ds(v)
	}
	position := []string{ds(pos[0]), ds(pos[1]), ds(pos[2])}

	elements := []*dicom.Element{
		Element(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		Element(tag.SOPClassUID, []string{s.SOPClassUID}),
		Element(tag.SOPInstanceUID, []string{fmt.Sprintf("%s.%d", s.SeriesUID, instance)}),
		Element(tag.ImageType, s.ImageType),
		Element(tag.Modality, []string{"MR"}),
		Element(tag.Manufacturer, []string{s.Manufacturer}),
		Element(tag.PatientName, []string{s.PatientName}),
		Element(tag.PatientID, []string{s.PatientID}),
		Element(tag.PatientBirthDate, []string{s.BirthDate}),
		Element(tag.PatientSex, []string{s.Sex}),
		Element(tag.StudyInstanceUID, []string{s.StudyUID}),
		Element(tag.StudyID, []string{s.StudyID}),
		Element(tag.StudyDate, []string{s.StudyDate}),
		Element(tag.StudyTime, []string{s.StudyTime}),
		Element(tag.SeriesInstanceUID, []string{s.SeriesUID}),
		Element(tag.SeriesNumber, []string{fmt.Sprintf("%d", s.SeriesNo)}),
		Element(tag.AcquisitionNumber, []string{"1"}),
		Element(tag.InstanceNumber, []string{fmt.Sprintf("%d", instance)}),
		Element(tag.PixelSpacing, []string{ds(s.PixelSpacing), ds(s.PixelSpacing)}),
		Element(tag.SliceThickness, []string{ds(s.SliceThickness)}),
		Element(tag.SpacingBetweenSlices, []string{ds(s.SliceSpacing)}),
		Element(tag.ImagePositionPatient, position),
		Element(tag.ImageOrientationPatient, orientation),
		Element(tag.SliceLocation, []string{ds(pos[2])}),
		Element(tag.RepetitionTime, []string{ds(s.TR)}),
		Element(tag.EchoTime, []string{ds(s.TE)}),
		Element(tag.FlipAngle, []string{ds(s.FlipAngle)}),
		Element(tag.Rows, []int{height}),
		Element(tag.Columns, []int{width}),
		Element(tag.BitsAllocated, []int{16}),
		Element(tag.BitsStored, []int{16}),
		Element(tag.HighBit, []int{15}),
		Element(tag.PixelRepresentation, []int{0}),
		Element(tag.SamplesPerPixel, []int{1}),
		Element(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}
	if s.SeriesDesc != "" {
		elements = append(elements, Element(tag.SeriesDescription, []string{s.SeriesDesc}))
	}
	if s.ProtocolName != "" {
		elements = append(elements, Element(tag.ProtocolName, []string{s.ProtocolName}))
	}
	if s.Institution != "" {
		elements = append(elements, Element(tag.InstitutionName, []string{s.Institution}))
	}
	if s.Station != "" {
		elements = append(elements, Element(tag.StationName, []string{s.Station}))
	}
	if s.Model != "" {
		elements = append(elements, Element(tag.ManufacturerModelName, []string{s.Model}))
	}
	if s.TemporalPositions > 0 {
		elements = append(elements, Element(tag.NumberOfTemporalPositions, []string{fmt.Sprintf("%d", s.TemporalPositions)}))
	}
	if s.ImagesInAcq > 0 {
		elements = append(elements, Element(tag.ImagesInAcquisition, []string{fmt.Sprintf("%d", s.ImagesInAcq)}))
	}
	if s.Extra != nil {
		elements = append(elements, s.Extra(slice, timepoint)...)
	}
	elements = append(elements, Element(tag.PixelData, pixelData))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return dicom.Write(f, dicom.Dataset{Elements: elements}, dicom.SkipVRVerification())
}

// Element builds a registered-tag element, panicking on misuse; fixture
// construction has no recoverable failure mode.
func Element(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("element %v: %v", t, err))
	}
	return elem
}

// PrivateElement builds a vendor private element with an explicit VR;
// dicom.NewElement rejects unregistered private tags.
func PrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}

func ds(f float64) string {
	return fmt.Sprintf("%g", f)
}
