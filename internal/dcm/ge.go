package dcm

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// GE private tags. UserData CVs live at 0019,10a7+N.
var (
	tagPulseSequenceName      = tag.Tag{Group: 0x0019, Element: 0x109c}
	tagInternalPSDName        = tag.Tag{Group: 0x0019, Element: 0x109e}
	tagGEBVec                 = [3]tag.Tag{{Group: 0x0019, Element: 0x10bb}, {Group: 0x0019, Element: 0x10bc}, {Group: 0x0019, Element: 0x10bd}}
	tagDiffusionDirs          = tag.Tag{Group: 0x0019, Element: 0x10bf} // UserData24
	tagLocationsInAcquisition = tag.Tag{Group: 0x0021, Element: 0x104f}
	tagEffectiveEchoSpacing   = tag.Tag{Group: 0x0043, Element: 0x102c}
	tagOffsetFrequency        = tag.Tag{Group: 0x0043, Element: 0x1034}
	tagGEBValue               = tag.Tag{Group: 0x0043, Element: 0x1039} // first of Slop_int_6..9
	tagReconFlag              = tag.Tag{Group: 0x0043, Element: 0x107d}
	tagAssetRFactors          = tag.Tag{Group: 0x0043, Element: 0x1083}
)

var (
	gemsTypeOriginal = []string{"ORIGINAL", "PRIMARY", "OTHER"}
	gemsTypeDerived  = []string{"DERIVED", "SECONDARY", "REFORMATTED", "AVERAGE"}
)

var geMRStrategy = strategy{
	name:     "ge.mr",
	parseOne: geParseOne,
	parseAll: geParseAll,
	convert:  geConvert,
}

func geParseOne(p *Parser) error {
	md := &p.ds.Metadata
	parseStandardMRTags(p)
	md.PSDName = strings.ToLower(p.hdr.String(tagPulseSequenceName))
	md.PSDIName = p.hdr.String(tagInternalPSDName)
	if d, ok := p.hdr.Float(tag.ReconstructionDiameter); ok {
		md.FOVX, md.FOVY = d, d
	}
	md.ReceiveCoilName = p.hdr.String(tag.ReceiveCoilName)
	md.MTOffsetHz, _ = p.hdr.Float(tagOffsetFrequency)
	if es, ok := p.hdr.Float(tagEffectiveEchoSpacing); ok {
		md.EffectiveEchoSpacing = es / 1e6
	}

	asset := p.hdr.Floats(tagAssetRFactors)
	if asset == nil {
		// Signa HDxt stores the ASSET factors as a single "1\1" string.
		if ints := backslashInts(p.hdr.String(tagAssetRFactors)); len(ints) == 2 {
			asset = []float64{float64(ints[0]), float64(ints[1])}
		}
	}
	if len(asset) == 2 {
		md.PhaseEncodeUndersample, md.SliceEncodeUndersample = asset[0], asset[1]
	}

	md.NumSlices = p.hdr.Int(tagLocationsInAcquisition, 0)
	md.TotalNumSlices = p.hdr.Int(tag.ImagesInAcquisition, 0)
	md.NumTimepoints = p.hdr.Int(tag.NumberOfTemporalPositions, 0)

	// Both fields unset, or set and equal, means the total actually holds
	// the per-volume count; rebuild it from the volume count.
	if orInt(md.TotalNumSlices, 1) == orInt(md.NumSlices, 0) {
		md.TotalNumSlices = orInt(md.NumSlices, 1) * orInt(md.NumTimepoints, 1)
		log.Debugf("adjusted total slices from %3d to %3d", md.NumSlices, md.TotalNumSlices)
	}
	// Localizers may omit the per-volume count entirely.
	if md.NumSlices == 0 && orInt(md.NumTimepoints, 1) == 1 {
		md.NumSlices = md.TotalNumSlices
	}

	if dur := md.TR * float64(md.NumTimepoints) * float64(orInt(md.NumAverages, 1)); dur != 0 {
		md.PrescribedDuration = dur
		md.Duration = dur
	}

	md.DwiNumDirs = p.hdr.Int(tagDiffusionDirs, 0)
	if imageTypeEquals(p.imageType, gemsTypeOriginal) && md.DwiNumDirs >= 6 {
		md.IsDWI = true
		md.NumTimepoints = 1
	}
	if imageTypeEquals(p.imageType, gemsTypeDerived) {
		md.IsNonImage = true
	}

	md.PSDType = mrdata.InferPSDType(md.PSDName)
	adjustFOVAcqMat(p)
	md.InferScanType()
	return nil
}

func geParseAll(p *Parser) error {
	md := &p.ds.Metadata

	if md.TotalNumSlices < MaxLocalizerElems {
		md.IsLocalizer = countOrientations(p.elems) > 1
	}

	if md.IsDWI && md.NumSlices > 0 {
		var bvals []float64
		var bvecs [3][]float64
		// One gradient per volume; the list is slice-major.
		for i := 0; i < len(p.elems); i += md.NumSlices {
			e := p.elems[i]
			bval := 0.0
			if bv := e.hdr.Floats(tagGEBValue); len(bv) > 0 {
				bval = bv[0]
			}
			bvals = append(bvals, bval)
			for axis := 0; axis < 3; axis++ {
				v, _ := e.hdr.Float(tagGEBVec[axis])
				bvecs[axis] = append(bvecs[axis], v)
			}
		}
		md.BVals = bvals
		md.BVecs = bvecs
	}

	flags := map[int]bool{}
	for _, e := range p.elems {
		flags[e.hdr.Int(tagReconFlag, 0)] = true
	}
	if len(flags) == 1 && flags[1] && md.PSDType != mrdata.PSDFieldmap && md.NumSlices > 0 {
		log.Debug("recon flag set, grouping per-coil volumes")
		md.IsMulticoil = true
		// The series interleaves each receiver plus one combined volume.
		md.NumReceivers = md.TotalNumSlices/md.NumSlices - 1
		stride := md.NumReceivers + 1
		p.groups = make([][]*element, 0, stride)
		for x := 0; x < stride; x++ {
			var group []*element
			for i := x; i < len(p.elems); i += stride {
				group = append(group, p.elems[i])
			}
			p.groups = append(p.groups, group)
		}
		log.Debugf("groups: %3d; %3d coils + 1 combined", len(p.groups), md.NumReceivers)
	}

	if md.TotalNumSlices >= md.NumSlices && md.NumSlices > 0 && p.elems[0].hdr.Has(tag.TriggerTime) {
		log.Debug("using trigger times for slice order and slice duration")
		var tt []float64
		for _, e := range p.elems[:md.NumSlices] {
			t, _ := e.hdr.Float(tag.TriggerTime)
			tt = append(tt, t)
		}
		md.SliceOrder, md.SliceDuration = mrdata.SliceOrderFromTriggerTimes(tt, md.ReverseSliceOrder)
	}
	return nil
}

// countOrientations counts distinct slice orientations, collapsing those
// that only differ by float noise.
func countOrientations(elems []*element) int {
	var distinct [][6]float64
	for _, e := range elems {
		o := orientationOf(e)
		found := false
		for _, d := range distinct {
			if allClose(d[:], o[:]) {
				found = true
				break
			}
		}
		if !found {
			distinct = append(distinct, o)
		}
	}
	return len(distinct)
}

func allClose(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-8+1e-5*math.Abs(b[i]) {
			return false
		}
	}
	return true
}

func geConvert(p *Parser) error {
	switch {
	case p.ds.IsNonImage:
		return nonImageConvert(p)
	case p.ds.IsLocalizer:
		return localizerConvert(p)
	case p.ds.IsMulticoil:
		return geMulticoilConvert(p)
	default:
		return standardConvert(p)
	}
}

// geMulticoilConvert stacks each coil group separately and concatenates
// the groups along the timepoint axis, combined volume last.
func geMulticoilConvert(p *Parser) error {
	log.Debug("multicoil recon")
	md := &p.ds.Metadata
	if err := partialVolCheck(p); err != nil {
		return err
	}

	var data []float32
	width, height, totalT := 0, 0, 0
	for gi, group := range p.groups {
		positions := map[string]bool{}
		for _, e := range group {
			positions[e.hdr.String(tag.SliceLocation)] = true
		}
		if len(positions) != md.NumSlices {
			return fmt.Errorf("%w: coil %d has %d unique positions, expected %d", mrdata.ErrGeometryMismatch, gi+1, len(positions), md.NumSlices)
		}
		planes, w, h, err := collectPlanes(group)
		if err != nil {
			return err
		}
		vol, err := stackVolume(planes, w, h, md.NumSlices, len(group)/md.NumSlices)
		if err != nil {
			return err
		}
		if width == 0 {
			width, height = w, h
		}
		totalT += vol.Dim(3)
		data = append(data, vol.Data...)
	}

	vol := mrdata.NewVolume(width, height, md.NumSlices, totalT)
	copy(vol.Data, data)
	p.ds.SetData(map[string]*mrdata.Volume{mrdata.PrimaryKey: vol})
	postConvert(p)
	return nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
