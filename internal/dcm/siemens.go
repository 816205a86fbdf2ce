package dcm

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// Siemens private tags. The CSA subheaders carry nearly all sequence
// detail; patient fields stay in standard tags only.
var (
	tagCSAImage          = tag.Tag{Group: 0x0029, Element: 0x1010}
	tagCSASeries         = tag.Tag{Group: 0x0029, Element: 0x1020}
	tagImagesInMosaic    = tag.Tag{Group: 0x0019, Element: 0x100a}
	siemensTypeDIS2D     = []string{"ORIGINAL", "PRIMARY", "M", "RETRO", "NORM", "DIS2D", "FM4_2", "FIL"}
	phoenixBValueKey     = "sDiffusion.alBValue[1]"
	csaGradientKey       = "DiffusionGradientDirection"
	phoenixCoilIDSuffix  = "sCoilElementID.tCoilID"
	phoenixSliceArrayLen = "sSliceArray.lSize"
	phoenixGroupArrayLen = "sGroupArray.asGroup[0].nSize"
)

var siemensMRStrategy = strategy{
	name:     "siemens.mr",
	parseOne: siemensParseOne,
	parseAll: siemensParseAll,
	convert:  siemensConvert,
}

// siemensSyngoCSAStrategy covers the private Syngo CSA non-image SOP
// class: identification only, never voxel data.
var siemensSyngoCSAStrategy = strategy{
	name: "siemens.syngo_csa",
	parseOne: func(p *Parser) error {
		p.ds.IsNonImage = true
		return nil
	},
	convert: nonImageConvert,
}

// elementCSA decodes an element's image subheader and series phoenix
// protocol. Missing or malformed subheaders yield empty maps.
func elementCSA(h *Header) (CSA, Phoenix) {
	csaImage, err := ParseCSA(h.Bytes(tagCSAImage))
	if err != nil {
		log.Debugf("no CSA image subheader: %v", err)
		csaImage = CSA{}
	}
	csaSeries, err := ParseCSA(h.Bytes(tagCSASeries))
	if err != nil {
		log.Debugf("no CSA series subheader: %v", err)
		csaSeries = CSA{}
	}
	prot := csaSeries.String("MrPhoenixProtocol")
	if prot == "" {
		prot = csaSeries.String("MrProtocol")
	}
	phoenix := ParsePhoenix(prot)
	if phoenix == nil {
		phoenix = Phoenix{}
	}
	return csaImage, phoenix
}

// inferSiemensPSDType categorizes a Siemens sequence file name, e.g.
// "%SiemensSeq%\ep2d_bold" with the leading percent already stripped.
func inferSiemensPSDType(psdName string) mrdata.PSDType {
	switch {
	case psdName == "":
		return mrdata.PSDUnknown
	case psdName == `siemensseq%\tse_vfl`:
		return mrdata.PSDTSE
	case psdName == `siemensseq%\ep2d_diff`, psdName == `siemensseq%\ep2d_bold`:
		return mrdata.PSDEPI
	case psdName == `siemensseq%\ep2d_asl`:
		return mrdata.PSDASL
	case psdName == `siemensseq%\gre`, psdName == `siemensseq%\gre_field_mapping`:
		return mrdata.PSDGRE
	case psdName == `siemensseq%\tfl`:
		return mrdata.PSDTFL
	case psdName == `serviceseq%\rf_noise`:
		return mrdata.PSDService
	case strings.HasPrefix(psdName, `customerseq%\ep2d_pasl`):
		return mrdata.PSDASL
	case strings.HasPrefix(psdName, `customerseq%\ep2d`):
		return mrdata.PSDEPI
	case psdName == `customerseq%\wip711_moco\tfl_multiecho_epinav_711`:
		return mrdata.PSDTFL
	default:
		return mrdata.PSDUnknown
	}
}

func siemensParseOne(p *Parser) error {
	md := &p.ds.Metadata
	parseStandardMRTags(p)
	p.csaImage, p.phoenix = elementCSA(p.hdr)

	md.PSDName = strings.Replace(strings.ToLower(p.phoenix.String("tSequenceFileName")), "%", "", 1)
	md.PSDIName = p.hdr.String(tag.SeriesDescription)
	md.FOVX, _ = p.phoenix.Float("sSliceArray.asSlice[0].dPhaseFOV")
	md.FOVY, _ = p.phoenix.Float("sSliceArray.asSlice[0].dReadoutFOV")
	md.ReceiveCoilName = p.csaImage.String("ImaCoilString")
	if d, ok := p.csaImage.Float("SliceMeasurementDuration"); ok && d != 0 {
		md.SliceDuration = d / 1e6
	}
	md.PrescribedDuration = float64(p.phoenix.Int("lScanTimeSec", 0))
	md.Duration = float64(p.phoenix.Int("lTotalScanTimeSec", 0))
	// The acquisition number counts volumes within the scan; it does not
	// identify the acquisition.
	md.AcqNo = 0

	md.DwiNumDirs = p.phoenix.Int("sDiffusion.lDiffDirections", 0)
	if md.DwiNumDirs > 1 {
		md.IsDWI = true
		md.NumTimepoints = 1
	}

	if hasImageType(p.imageType, "CSAPARALLEL") || hasImageType(p.imageType, "POSDISP") {
		md.IsNonImage = true
	}
	if imageTypeEquals(p.imageType, siemensTypeDIS2D) {
		// Retro-gated distortion-corrected stacks vary orientation between
		// files without being localizers; they cannot be stacked.
		md.IsNonImage = true
	}

	md.PSDType = inferSiemensPSDType(md.PSDName)
	adjustFOVAcqMat(p)
	md.InferScanType()
	return nil
}

func siemensParseAll(p *Parser) error {
	md := &p.ds.Metadata

	if !hasImageType(p.imageType, "MOSAIC") {
		log.Debug("siemens single-slice files")
		md.TotalNumSlices = len(p.elems)
		md.NumSlices = p.phoenix.Int(phoenixSliceArrayLen, p.phoenix.Int(phoenixGroupArrayLen, 0))
		if md.NumSlices > 0 {
			md.NumTimepoints = md.TotalNumSlices / md.NumSlices
		}
	} else {
		log.Debug("siemens mosaic")
		md.NumSlices, _ = p.csaImage.Int("NumberOfImagesInMosaic")
		if md.NumSlices == 0 {
			md.NumSlices = p.hdr.Int(tagImagesInMosaic, 0)
		}
		md.NumTimepoints = len(p.elems)
		tileDim := mosaicTileDim(md.NumSlices)
		if tileDim > 0 {
			md.SizeX /= tileDim
			md.SizeY /= tileDim
			md.FOVX /= float64(tileDim)
			md.FOVY /= float64(tileDim)
		}
		md.TotalNumSlices = md.NumSlices * md.NumTimepoints
	}
	log.Debugf("num slices / vol: %d", md.NumSlices)

	if md.NumTimepoints > 0 && md.TR > 0 {
		md.Duration = float64(md.NumTimepoints*orInt(md.NumAverages, 1)) * md.TR
	}

	// ucMode 1 is ascending, 2 descending, 4 interleaved ascending; the
	// interleave start slice depends on slice-count parity.
	switch p.phoenix.Int("sSliceArray.ucMode", 0) {
	case 1:
		md.SliceOrder = mrdata.SliceOrderSeqInc
	case 2:
		md.SliceOrder = mrdata.SliceOrderSeqDec
	case 4:
		if md.NumSlices%2 != 0 {
			md.SliceOrder = mrdata.SliceOrderAltInc
		} else {
			md.SliceOrder = mrdata.SliceOrderAltInc2
		}
	}

	md.NumReceivers = p.phoenix.CountSuffix(phoenixCoilIDSuffix)

	if md.TotalNumSlices < MaxLocalizerElems {
		md.IsLocalizer = countNormalDirections(p.elems) > 1
	}

	if md.IsDWI && md.NumSlices > 0 && md.NumSlices <= len(p.elems) {
		var bvals []float64
		var bvecs [3][]float64
		for _, e := range p.elems[:md.NumSlices] {
			csaImage, phoenix := elementCSA(e.hdr)
			bval, _ := phoenix.Float(phoenixBValueKey)
			bvals = append(bvals, bval)
			grad := csaImage.Floats(csaGradientKey)
			for axis := 0; axis < 3; axis++ {
				v := 0.0
				if axis < len(grad) {
					v = grad[axis]
				}
				bvecs[axis] = append(bvecs[axis], v)
			}
		}
		md.BVals = bvals
		md.BVecs = bvecs
	}
	return nil
}

// countNormalDirections counts distinct slice-normal directions, two
// decimal places of the projection onto the first normal.
func countNormalDirections(elems []*element) int {
	var first [3]float64
	distinct := map[float64]bool{}
	for i, e := range elems {
		o := orientationOf(e)
		norm := mrdata.Cross([3]float64{o[0], o[1], o[2]}, [3]float64{o[3], o[4], o[5]})
		if i == 0 {
			first = norm
		}
		distinct[math.Round(math.Abs(mrdata.Dot(first, norm))*100)/100] = true
	}
	return len(distinct)
}

// mosaicTileDim is the side of the square tile grid holding n slices.
func mosaicTileDim(n int) int {
	if n <= 0 {
		return 0
	}
	d := int(math.Sqrt(float64(n)))
	if d*d < n {
		d++
	}
	return d
}

func siemensConvert(p *Parser) error {
	switch {
	case p.ds.IsNonImage:
		return nonImageConvert(p)
	case p.ds.IsLocalizer:
		return localizerConvert(p)
	case hasImageType(p.imageType, "MOSAIC"):
		return siemensMosaicConvert(p)
	default:
		return standardConvert(p)
	}
}

// siemensMosaicConvert untiles one mosaic per timepoint into a slice
// stack.
func siemensMosaicConvert(p *Parser) error {
	log.Debug("mosaic recon")
	md := &p.ds.Metadata
	if md.NumSlices <= 0 {
		return fmt.Errorf("%w: mosaic without slice count", mrdata.ErrHeaderMissing)
	}
	tileDim := mosaicTileDim(md.NumSlices)

	var planes [][]float32
	for _, e := range p.elems {
		ps, w, h, err := framePixels(e.hdr)
		if err != nil {
			return err
		}
		if w != md.SizeX*tileDim || h != md.SizeY*tileDim {
			return fmt.Errorf("%w: mosaic is %dx%d, expected %dx%d", mrdata.ErrGeometryMismatch, w, h, md.SizeX*tileDim, md.SizeY*tileDim)
		}
		for _, plane := range ps {
			planes = append(planes, untileMosaic(plane, w, md.SizeX, md.SizeY, tileDim, md.NumSlices)...)
		}
	}

	cos := p.hdr.Floats(tag.ImageOrientationPatient)
	var rowCos, colCos [3]float64
	if len(cos) == 6 {
		copy(rowCos[:], cos[0:3])
		copy(colCos[:], cos[3:6])
	}
	sliceNorm := mrdata.Cross(rowCos, colCos)
	pos := positionOf(p.elems[0])
	origin := [3]float64{-pos[0], -pos[1], pos[2]}
	md.Rotation = mrdata.ComputeRotation(rowCos, colCos, sliceNorm)
	md.Affine = mrdata.BuildAffine(md.Rotation, md.MMPerVox(), origin)

	vol, err := stackVolume(planes, md.SizeX, md.SizeY, md.NumSlices, len(p.elems))
	if err != nil {
		return err
	}
	p.ds.SetData(map[string]*mrdata.Volume{mrdata.PrimaryKey: vol})
	postConvert(p)
	return nil
}
