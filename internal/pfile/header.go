package pfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// Header is the fully decoded P-file header for one acquisition. It is
// immutable once decoded.
type Header struct {
	Version Version
	Rec     RecSection
	Exam    ExamSection
	Series  SeriesSection
	Image   ImageSection
}

// RecSection holds acquisition-control fields, including the user CVs
// that sequence-specific code overloads.
type RecSection struct {
	RunInt     int32
	ScanDate   string // MM/DD/YY
	ScanTime   string // HH:MM
	NPasses    int16
	NSlices    int16
	NEchoes    int16
	NFrames    int16
	HNover     int16
	FrameSize  uint16
	PointSize  int16
	DabStart   int16
	DabStop    int16
	ScanType   uint16
	DacqCtrl   uint16
	NumDifDirs int16
	RcXRes     int16
	RcYRes     int16
	ImSize     int16
	Bandwidth  float32
	User       [23]float32
	RoiLen     [3]float32 // x, y, z
	RoiLoc     [3]float32 // x, y, z
	ILeaves    int16
	OffData    int32
}

// ExamSection holds the exam-level identifiers and subject fields.
type ExamSection struct {
	ExamNo      uint16
	PatSex      int16
	HospName    string
	SysID       string
	Operator    string
	DateOfBirth string
	StudyUID    string // unpacked
	PatientID   string
	PatientName string
}

// SeriesSection holds the series-level identifiers and slice prescription.
type SeriesSection struct {
	SeriesNo  int16
	SortOrder int16
	StartRAS  byte
	EndRAS    byte
	StartLoc  float32
	EndLoc    float32
	Protocol  string
	Desc      string
	SeriesUID string // unpacked
}

// ImageSection holds per-image timing and geometry.
type ImageSection struct {
	ImDatetime   int32
	TR           int32 // microseconds
	TI           int32
	TE           int32
	Flip         int16
	FreqDir      int16
	SlQuant      int16
	Averages     int16
	OffsetFreq   int32
	EffEchoSpace int32
	DimX         float32
	DimY         float32
	DFOV         float32
	DFOVRect     float32
	SlThick      float32
	ScanSpacing  float32
	TLHC         [3]float32 // R, A, S
	TRHC         [3]float32
	BRHC         [3]float32
	Norm         [3]float32
	CoilName     string
	ScanActNo    int16
	PSDName      string
}

// reader wraps an io.ReaderAt with little-endian field accessors. The
// first read error sticks and every later accessor returns zero values.
type reader struct {
	ra  io.ReaderAt
	err error
}

func (r *reader) read(off int64, n int) []byte {
	b := make([]byte, n)
	if r.err != nil {
		return b
	}
	if _, err := r.ra.ReadAt(b, off); err != nil {
		r.err = fmt.Errorf("%w: read at %d: %v", mrdata.ErrFormat, off, err)
	}
	return b
}

func (r *reader) u16(off int64) uint16 { return binary.LittleEndian.Uint16(r.read(off, 2)) }
func (r *reader) i16(off int64) int16  { return int16(r.u16(off)) }
func (r *reader) i32(off int64) int32  { return int32(binary.LittleEndian.Uint32(r.read(off, 4))) }
func (r *reader) f32(off int64) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(r.read(off, 4)))
}
func (r *reader) byte1(off int64) byte { return r.read(off, 1)[0] }

// str reads an n-byte NUL-padded string field.
func (r *reader) str(off int64, n int) string {
	return string(bytes.SplitN(r.read(off, n), []byte{0}, 2)[0])
}

// uid reads a 32-byte packed UID field.
func (r *reader) uid(off int64) string {
	return UnpackUID(bytes.SplitN(r.read(off, 32), []byte{0}, 2)[0])
}

func (r *reader) f32vec3(off int64) [3]float32 {
	return [3]float32{r.f32(off), r.f32(off + 4), r.f32(off + 8)}
}

// decodeHeader maps the complete byte layout of one revision into a
// Header value.
func decodeHeader(ra io.ReaderAt, v Version) (*Header, error) {
	lay, ok := layouts[v]
	if !ok {
		return nil, fmt.Errorf("%w: revision %d", mrdata.ErrUnsupportedVersion, v)
	}
	r := &reader{ra: ra}
	h := &Header{Version: v}

	h.Rec = RecSection{
		RunInt:     r.i32(lay.rec.runInt),
		ScanDate:   r.str(lay.rec.scanDate, 10),
		ScanTime:   r.str(lay.rec.scanTime, 8),
		NPasses:    r.i16(lay.rec.npasses),
		NSlices:    r.i16(lay.rec.nslices),
		NEchoes:    r.i16(lay.rec.nechoes),
		NFrames:    r.i16(lay.rec.nframes),
		HNover:     r.i16(lay.rec.hnover),
		FrameSize:  r.u16(lay.rec.frameSize),
		PointSize:  r.i16(lay.rec.pointSize),
		DabStart:   r.i16(lay.rec.dabStart),
		DabStop:    r.i16(lay.rec.dabStop),
		ScanType:   r.u16(lay.rec.scanType),
		DacqCtrl:   r.u16(lay.rec.dacqCtrl),
		NumDifDirs: r.i16(lay.rec.numDifDirs),
		RcXRes:     r.i16(lay.rec.rcXRes),
		RcYRes:     r.i16(lay.rec.rcYRes),
		ImSize:     r.i16(lay.rec.imSize),
		Bandwidth:  r.f32(lay.rec.bandwidth),
		ILeaves:    r.i16(lay.rec.ileaves),
		OffData:    r.i32(lay.rec.offData),
	}
	for i := range h.Rec.User {
		h.Rec.User[i] = r.f32(lay.rec.userOff + int64(4*i))
	}
	h.Rec.RoiLen = r.f32vec3(lay.rec.roiLenX)
	h.Rec.RoiLoc = r.f32vec3(lay.rec.roiLocX)

	h.Exam = ExamSection{
		ExamNo:      r.u16(lay.exam.examNo),
		PatSex:      r.i16(lay.exam.patSex),
		HospName:    r.str(lay.exam.hospName, 33),
		SysID:       r.str(lay.exam.sysID, 9),
		Operator:    r.str(lay.exam.operator, 65),
		DateOfBirth: r.str(lay.exam.dateOfBirth, 9),
		StudyUID:    r.uid(lay.exam.studyUID),
		PatientID:   r.str(lay.exam.patientID, 65),
		PatientName: r.str(lay.exam.patientName, 65),
	}

	h.Series = SeriesSection{
		SeriesNo:  r.i16(lay.series.seriesNo),
		SortOrder: r.i16(lay.series.sortOrder),
		StartRAS:  r.byte1(lay.series.startRAS),
		EndRAS:    r.byte1(lay.series.endRAS),
		StartLoc:  r.f32(lay.series.startLoc),
		EndLoc:    r.f32(lay.series.endLoc),
		Protocol:  r.str(lay.series.protocol, 25),
		Desc:      r.str(lay.series.desc, 65),
		SeriesUID: r.uid(lay.series.seriesUID),
	}

	h.Image = ImageSection{
		ImDatetime:   r.i32(lay.image.imDatetime),
		TR:           r.i32(lay.image.tr),
		TI:           r.i32(lay.image.ti),
		TE:           r.i32(lay.image.te),
		Flip:         r.i16(lay.image.flip),
		FreqDir:      r.i16(lay.image.freqDir),
		SlQuant:      r.i16(lay.image.slQuant),
		Averages:     r.i16(lay.image.averages),
		OffsetFreq:   r.i32(lay.image.offsetFreq),
		EffEchoSpace: r.i32(lay.image.effEchoSpace),
		DimX:         r.f32(lay.image.dimX),
		DimY:         r.f32(lay.image.dimY),
		DFOV:         r.f32(lay.image.dfov),
		DFOVRect:     r.f32(lay.image.dfovRect),
		SlThick:      r.f32(lay.image.slThick),
		ScanSpacing:  r.f32(lay.image.scanSpacing),
		TLHC:         r.f32vec3(lay.image.tlhc),
		TRHC:         r.f32vec3(lay.image.trhc),
		BRHC:         r.f32vec3(lay.image.brhc),
		Norm:         r.f32vec3(lay.image.norm),
		CoilName:     r.str(lay.image.coilName, 17),
		ScanActNo:    r.i16(lay.image.scanActNo),
		PSDName:      r.str(lay.image.psdName, 33),
	}

	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

// PFileName returns the canonical P-file name (without the .7 suffix)
// derived from the run number.
func (h *Header) PFileName() string {
	return fmt.Sprintf("P%05d", h.Rec.RunInt)
}
