package dcm

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// parseStandardMRTags fills the vendor-independent MR sequence fields
// from the probe header. Times come in milliseconds and are stored in
// seconds.
func parseStandardMRTags(p *Parser) {
	md := &p.ds.Metadata
	if tr, ok := p.hdr.Float(tag.RepetitionTime); ok {
		md.TR = tr / 1000
	}
	if ti, ok := p.hdr.Float(tag.InversionTime); ok {
		md.TI = ti / 1000
	}
	if te, ok := p.hdr.Float(tag.EchoTime); ok {
		md.TE = te / 1000
	}
	md.FlipAngle, _ = p.hdr.Float(tag.FlipAngle)
	md.PixelBandwidth, _ = p.hdr.Float(tag.PixelBandwidth)
	if dir := p.hdr.String(tag.InPlanePhaseEncodingDirection); dir != "" {
		if dir == "COL" {
			md.PhaseEncode = 1
		} else {
			md.PhaseEncode = 0
		}
	}
	md.NumAverages = p.hdr.Int(tag.NumberOfAverages, 0)
	md.NumEchos = p.hdr.Int(tag.EchoNumbers, 0)
	md.ProtocolName = p.hdr.String(tag.ProtocolName)
	md.AcquisitionType = p.hdr.String(tag.MRAcquisitionType)
	if spacing := p.hdr.Floats(tag.PixelSpacing); len(spacing) == 2 {
		md.MMPerVoxX, md.MMPerVoxY = spacing[0], spacing[1]
	}
	if z, ok := p.hdr.Float(tag.SpacingBetweenSlices); ok {
		md.MMPerVoxZ = z
	} else if z, ok := p.hdr.Float(tag.SliceThickness); ok {
		md.MMPerVoxZ = z
	}
	md.SizeX = p.hdr.Int(tag.Columns, 0)
	md.SizeY = p.hdr.Int(tag.Rows, 0)
	md.ReverseSliceOrder = false
	md.SliceOrder = mrdata.SliceOrderUnknown
}

// adjustFOVAcqMat derives the acquisition matrix and corrects the FOV
// for the percent-phase factor. The AcquisitionMatrix tag holds four
// values [freq rows, freq cols, phase rows, phase cols]; which pair is
// populated depends on the phase-encode axis, and the matrix is stored
// rows-by-columns regardless.
func adjustFOVAcqMat(p *Parser) {
	md := &p.ds.Metadata
	acqMat := p.hdr.Ints(tag.AcquisitionMatrix)
	pct, hasPct := p.hdr.Float(tag.PercentPhaseFieldOfView)
	if md.PhaseEncode == 1 {
		if len(acqMat) == 4 {
			md.AcquisitionMatrixX, md.AcquisitionMatrixY = acqMat[0], acqMat[3]
		}
		if hasPct && pct > 0 {
			md.FOVY /= pct / 100
		}
	} else {
		if len(acqMat) == 4 {
			md.AcquisitionMatrixX, md.AcquisitionMatrixY = acqMat[2], acqMat[1]
		}
		if hasPct && pct > 0 {
			md.FOVX /= pct / 100
		}
	}
}

// nonImageConvert handles series flagged non-image: metadata only, no
// voxel data.
func nonImageConvert(p *Parser) error {
	log.Errorf("series %s is non-image", p.ds.SeriesUID)
	return nil
}

// orientationOf returns an element's ImageOrientationPatient, zeros when
// absent so distinct-orientation counting still works.
func orientationOf(e *element) [6]float64 {
	var out [6]float64
	cos := e.hdr.Floats(tag.ImageOrientationPatient)
	if len(cos) == 6 {
		copy(out[:], cos)
	}
	return out
}

func positionOf(e *element) [3]float64 {
	var out [3]float64
	pos := e.hdr.Floats(tag.ImagePositionPatient)
	if len(pos) == 3 {
		copy(out[:], pos)
	}
	return out
}

// localizerConvert reconstructs a localizer: one stack per distinct
// orientation, stored as timepoints.
func localizerConvert(p *Parser) error {
	log.Debug("localizer recon")
	md := &p.ds.Metadata
	distinct := map[[6]float64]bool{}
	for _, e := range p.elems {
		distinct[orientationOf(e)] = true
	}
	md.NumTimepoints = len(distinct)
	if md.NumTimepoints > 0 {
		md.NumSlices = md.TotalNumSlices / md.NumTimepoints
	}

	cos := p.hdr.Floats(tag.ImageOrientationPatient)
	var rowCos, colCos [3]float64
	if len(cos) == 6 {
		copy(rowCos[:], cos[0:3])
		copy(colCos[:], cos[3:6])
	}
	sliceNorm := mrdata.Cross(rowCos, colCos)
	rot := mrdata.ComputeRotation(rowCos, colCos, sliceNorm)
	pos := positionOf(p.elems[0])
	origin := [3]float64{-pos[0], -pos[1], pos[2]}
	md.Rotation = rot
	md.Affine = mrdata.BuildAffine(rot, md.MMPerVox(), origin)

	planes, w, h, err := collectPlanes(p.elems)
	if err != nil {
		return err
	}
	vol, err := stackVolume(planes, w, h, md.NumSlices, md.NumTimepoints)
	if err != nil {
		return err
	}
	p.ds.SetData(map[string]*mrdata.Volume{mrdata.PrimaryKey: vol})
	return nil
}

// partialVolCheck trims trailing files that do not form a complete
// volume. Fewer files than one volume is unrecoverable.
func partialVolCheck(p *Parser) error {
	if hasImageType(p.imageType, "MOSAIC") || p.ds.NumSlices == 0 {
		return nil
	}
	if len(p.elems) < p.ds.NumSlices {
		return fmt.Errorf("%w: %d files for %d slices, less than one volume", mrdata.ErrGeometryMismatch, len(p.elems), p.ds.NumSlices)
	}
	if extra := len(p.elems) % p.ds.NumSlices; extra > 0 {
		log.Debugf("file count is not a multiple of the slice count, trimming %d", extra)
		p.elems = p.elems[:len(p.elems)-extra]
	}
	return nil
}

// postConvert finishes a reconstruction: diffusion gradient adjustment
// needs the final rotation.
func postConvert(p *Parser) {
	md := &p.ds.Metadata
	if md.IsDWI && len(md.BVals) > 0 {
		mrdata.AdjustBVecs(&md.BVecs, md.BVals, md.Manufacturer, md.Rotation)
	}
}

// standardConvert reconstructs a plain single-orientation stack: slices
// in file order, affine from the first element's cosines and the
// first/last slice positions.
func standardConvert(p *Parser) error {
	log.Debug("standard recon")
	md := &p.ds.Metadata
	if err := partialVolCheck(p); err != nil {
		return err
	}

	numSlices := md.NumSlices
	if numSlices == 0 {
		numSlices = len(p.elems)
	}
	numTimepoints := len(p.elems) / numSlices

	cos := p.hdr.Floats(tag.ImageOrientationPatient)
	var rowCos, colCos [3]float64
	if len(cos) == 6 {
		copy(rowCos[:], cos[0:3])
		copy(colCos[:], cos[3:6])
	}
	posFirst := positionOf(p.elems[0])
	posLast := positionOf(p.elems[numSlices-1])
	sliceNorm, flipped := mrdata.SliceNormFromPositions(rowCos, colCos, posFirst, posLast)
	if flipped {
		md.ReverseSliceOrder = true
	}
	origin := [3]float64{-posFirst[0], -posFirst[1], posFirst[2]}
	md.Rotation = mrdata.ComputeRotation(rowCos, colCos, sliceNorm)
	md.Affine = mrdata.BuildAffine(md.Rotation, md.MMPerVox(), origin)

	planes, w, h, err := collectPlanes(p.elems)
	if err != nil {
		return err
	}
	vol, err := stackVolume(planes, w, h, numSlices, numTimepoints)
	if err != nil {
		return err
	}
	p.ds.SetData(map[string]*mrdata.Volume{mrdata.PrimaryKey: vol})
	postConvert(p)
	return nil
}

// collectPlanes decodes pixel data across elements into a flat plane
// list; multi-frame elements contribute all their frames in order.
func collectPlanes(elems []*element) ([][]float32, int, int, error) {
	var planes [][]float32
	width, height := 0, 0
	for _, e := range elems {
		ps, w, h, err := framePixels(e.hdr)
		if err != nil {
			return nil, 0, 0, err
		}
		if width == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return nil, 0, 0, fmt.Errorf("%w: element %s is %dx%d, series is %dx%d", mrdata.ErrGeometryMismatch, e.path, w, h, width, height)
		}
		planes = append(planes, ps...)
	}
	return planes, width, height, nil
}

func hasImageType(imageType []string, want string) bool {
	for _, t := range imageType {
		if t == want {
			return true
		}
	}
	return false
}

func imageTypeEquals(imageType []string, want []string) bool {
	if len(imageType) != len(want) {
		return false
	}
	for i := range want {
		if imageType[i] != want[i] {
			return false
		}
	}
	return true
}
