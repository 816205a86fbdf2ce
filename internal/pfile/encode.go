package pfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeHeader renders a header back into the on-disk byte layout of its
// revision. The output decodes to an equivalent Header and is what the
// synthetic test fixtures feed to the parser; k-space payload, if any, is
// appended by the caller.
func EncodeHeader(h *Header) ([]byte, error) {
	lay, ok := layouts[h.Version]
	if !ok {
		return nil, fmt.Errorf("no layout for revision %d", h.Version)
	}
	buf := make([]byte, headerSize(h.Version))
	w := &writer{buf: buf}

	magic := versionMagic[h.Version]
	copy(buf[0:4], magic[:])
	copy(buf[logoOffset:], "GE_MED_NMR")

	w.i32(lay.rec.runInt, h.Rec.RunInt)
	w.str(lay.rec.scanDate, 10, h.Rec.ScanDate)
	w.str(lay.rec.scanTime, 8, h.Rec.ScanTime)
	w.i16(lay.rec.npasses, h.Rec.NPasses)
	w.i16(lay.rec.nslices, h.Rec.NSlices)
	w.i16(lay.rec.nechoes, h.Rec.NEchoes)
	w.i16(lay.rec.nframes, h.Rec.NFrames)
	w.i16(lay.rec.hnover, h.Rec.HNover)
	w.u16(lay.rec.frameSize, h.Rec.FrameSize)
	w.i16(lay.rec.pointSize, h.Rec.PointSize)
	w.i16(lay.rec.dabStart, h.Rec.DabStart)
	w.i16(lay.rec.dabStop, h.Rec.DabStop)
	w.u16(lay.rec.scanType, h.Rec.ScanType)
	w.u16(lay.rec.dacqCtrl, h.Rec.DacqCtrl)
	w.i16(lay.rec.numDifDirs, h.Rec.NumDifDirs)
	w.i16(lay.rec.rcXRes, h.Rec.RcXRes)
	w.i16(lay.rec.rcYRes, h.Rec.RcYRes)
	w.i16(lay.rec.imSize, h.Rec.ImSize)
	w.f32(lay.rec.bandwidth, h.Rec.Bandwidth)
	for i, u := range h.Rec.User {
		w.f32(lay.rec.userOff+int64(4*i), u)
	}
	for i := 0; i < 3; i++ {
		w.f32(lay.rec.roiLenX+int64(4*i), h.Rec.RoiLen[i])
		w.f32(lay.rec.roiLocX+int64(4*i), h.Rec.RoiLoc[i])
	}
	w.i16(lay.rec.ileaves, h.Rec.ILeaves)
	w.i32(lay.rec.offData, h.Rec.OffData)

	w.u16(lay.exam.examNo, h.Exam.ExamNo)
	w.i16(lay.exam.patSex, h.Exam.PatSex)
	w.str(lay.exam.hospName, 33, h.Exam.HospName)
	w.str(lay.exam.sysID, 9, h.Exam.SysID)
	w.str(lay.exam.operator, 65, h.Exam.Operator)
	w.str(lay.exam.dateOfBirth, 9, h.Exam.DateOfBirth)
	if err := w.uid(lay.exam.studyUID, h.Exam.StudyUID); err != nil {
		return nil, err
	}
	w.str(lay.exam.patientID, 65, h.Exam.PatientID)
	w.str(lay.exam.patientName, 65, h.Exam.PatientName)

	w.i16(lay.series.seriesNo, h.Series.SeriesNo)
	w.i16(lay.series.sortOrder, h.Series.SortOrder)
	w.buf[lay.series.startRAS] = h.Series.StartRAS
	w.buf[lay.series.endRAS] = h.Series.EndRAS
	w.f32(lay.series.startLoc, h.Series.StartLoc)
	w.f32(lay.series.endLoc, h.Series.EndLoc)
	w.str(lay.series.protocol, 25, h.Series.Protocol)
	w.str(lay.series.desc, 65, h.Series.Desc)
	if err := w.uid(lay.series.seriesUID, h.Series.SeriesUID); err != nil {
		return nil, err
	}

	w.i32(lay.image.imDatetime, h.Image.ImDatetime)
	w.i32(lay.image.tr, h.Image.TR)
	w.i32(lay.image.ti, h.Image.TI)
	w.i32(lay.image.te, h.Image.TE)
	w.i16(lay.image.flip, h.Image.Flip)
	w.i16(lay.image.freqDir, h.Image.FreqDir)
	w.i16(lay.image.slQuant, h.Image.SlQuant)
	w.i16(lay.image.averages, h.Image.Averages)
	w.i32(lay.image.offsetFreq, h.Image.OffsetFreq)
	w.i32(lay.image.effEchoSpace, h.Image.EffEchoSpace)
	w.f32(lay.image.dimX, h.Image.DimX)
	w.f32(lay.image.dimY, h.Image.DimY)
	w.f32(lay.image.dfov, h.Image.DFOV)
	w.f32(lay.image.dfovRect, h.Image.DFOVRect)
	w.f32(lay.image.slThick, h.Image.SlThick)
	w.f32(lay.image.scanSpacing, h.Image.ScanSpacing)
	for i := 0; i < 3; i++ {
		w.f32(lay.image.tlhc+int64(4*i), h.Image.TLHC[i])
		w.f32(lay.image.trhc+int64(4*i), h.Image.TRHC[i])
		w.f32(lay.image.brhc+int64(4*i), h.Image.BRHC[i])
		w.f32(lay.image.norm+int64(4*i), h.Image.Norm[i])
	}
	w.str(lay.image.coilName, 17, h.Image.CoilName)
	w.i16(lay.image.scanActNo, h.Image.ScanActNo)
	w.str(lay.image.psdName, 33, h.Image.PSDName)

	return buf, nil
}

type writer struct{ buf []byte }

func (w *writer) u16(off int64, v uint16) { binary.LittleEndian.PutUint16(w.buf[off:], v) }
func (w *writer) i16(off int64, v int16)  { w.u16(off, uint16(v)) }
func (w *writer) i32(off int64, v int32)  { binary.LittleEndian.PutUint32(w.buf[off:], uint32(v)) }
func (w *writer) f32(off int64, v float32) {
	binary.LittleEndian.PutUint32(w.buf[off:], math.Float32bits(v))
}
func (w *writer) str(off int64, n int, s string) {
	if len(s) > n {
		s = s[:n]
	}
	copy(w.buf[off:off+int64(n)], s)
}

// uid packs a dotted UID into 4-bit pairs, the inverse of UnpackUID.
func (w *writer) uid(off int64, uid string) error {
	var nibbles []byte
	for _, c := range uid {
		switch {
		case c >= '0' && c <= '9':
			nibbles = append(nibbles, byte(c-'0')+1)
		case c == '.':
			nibbles = append(nibbles, 11)
		default:
			return fmt.Errorf("cannot pack UID %q", uid)
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, 0)
	}
	packed := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		packed = append(packed, nibbles[i]<<4|nibbles[i+1])
	}
	if len(packed) > 32 {
		return fmt.Errorf("UID %q too long to pack", uid)
	}
	copy(w.buf[off:off+32], packed)
	return nil
}
