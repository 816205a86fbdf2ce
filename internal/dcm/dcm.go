// Package dcm parses DICOM series into canonical datasets. A probe pass
// over the first parseable file picks a vendor strategy (manufacturer x
// SOP class); the full pass loads every file, verifies series congruence
// and reconstructs the voxel stack.
package dcm

import (
	"fmt"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// MaxLocalizerElems caps how many files a series may hold and still be
// checked for localizer geometry; larger series are never localizers and
// the per-file orientation scan is skipped.
const MaxLocalizerElems = 150

type element struct {
	path string
	hdr  *Header
}

// Parser ingests one DICOM series, given the staged file paths.
type Parser struct {
	paths []string
	ds    *mrdata.Dataset

	hdr         *Header
	imageType   []string
	sopClassUID string
	strat       strategy

	elems  []*element
	groups [][]*element

	// Siemens subheaders of the probe element.
	csaImage CSA
	phoenix  Phoenix
}

// NewParser probes the series: the first parseable file supplies the
// identifying metadata and selects the vendor strategy, whose single-file
// parse then runs. Returns ErrHeaderMissing when no file parses.
func NewParser(paths []string) (*Parser, error) {
	p := &Parser{paths: paths, ds: mrdata.NewDataset()}
	for _, path := range paths {
		parsed, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			log.Debugf("probe skipping %s: %v", path, err)
			continue
		}
		p.hdr = NewHeader(&parsed)
		break
	}
	if p.hdr == nil {
		return nil, fmt.Errorf("%w: no parseable file in series", mrdata.ErrHeaderMissing)
	}

	md := &p.ds.Metadata
	p.imageType = p.hdr.Strings(tag.ImageType)
	md.Manufacturer = p.hdr.String(tag.Manufacturer)
	if md.Manufacturer == "" {
		// Some Siemens non-image objects omit the manufacturer but stamp
		// CSA-prefixed image types.
		for _, sub := range p.imageType {
			if len(sub) >= 3 && sub[:3] == "CSA" {
				md.Manufacturer = "SIEMENS"
				break
			}
		}
	}
	p.sopClassUID = p.hdr.String(tag.SOPClassUID)
	if md.Manufacturer == "" {
		log.Warn("could not determine manufacturer from header")
	}
	if p.sopClassUID == "" {
		log.Warn("SOP class UID not set in header")
	}
	p.strat = strategyFor(md.Manufacturer, p.sopClassUID)

	p.parseStandardTags()
	if p.strat.parseOne != nil {
		if err := p.strat.parseOne(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// parseStandardTags fills the vendor-independent identification fields.
func (p *Parser) parseStandardTags() {
	md := &p.ds.Metadata
	md.ExamNo, _ = strconv.Atoi(p.hdr.String(tag.StudyID))
	md.ExamUID = p.hdr.String(tag.StudyInstanceUID)
	md.PatientID = p.hdr.String(tag.PatientID)
	md.SeriesNo = p.hdr.Int(tag.SeriesNumber, 0)
	md.SeriesDesc = p.hdr.String(tag.SeriesDescription)
	md.SeriesUID = p.hdr.String(tag.SeriesInstanceUID)
	md.SubjectCode, md.GroupName, md.ExperimentName = mrdata.ParsePatientID(md.PatientID, fmt.Sprintf("ex%d", md.ExamNo))
	md.AcqNo = p.hdr.Int(tag.AcquisitionNumber, 1)

	md.Timestamp = mrdata.ParseTimestamp(p.hdr.String(tag.AcquisitionDate), p.hdr.String(tag.AcquisitionTime))
	if md.Timestamp.IsZero() {
		md.Timestamp = mrdata.ParseTimestamp(p.hdr.String(tag.StudyDate), p.hdr.String(tag.StudyTime))
	}
	md.SubjFirstName, md.SubjLastName = mrdata.ParsePatientName(p.hdr.String(tag.PatientName))
	md.SubjDOB = mrdata.ParsePatientDOB(p.hdr.String(tag.PatientBirthDate))
	switch p.hdr.String(tag.PatientSex) {
	case "M":
		md.SubjSex = "male"
	case "F":
		md.SubjSex = "female"
	}
	md.ScannerName = joinNonEmpty(p.hdr.String(tag.InstitutionName), p.hdr.String(tag.StationName))
	md.ManufacturerModel = p.hdr.String(tag.ManufacturerModelName)
	md.Operator = p.hdr.String(tag.OperatorsName)
}

// Metadata returns the dataset under construction; identification fields
// are valid after NewParser, the rest after LoadData.
func (p *Parser) Metadata() *mrdata.Metadata { return &p.ds.Metadata }

// LoadData loads every file in the series, runs the vendor series-wide
// parse and reconstructs the voxel data. Reconstruction failures are
// recoverable: the returned dataset carries complete metadata with
// FailureReason set and no voxel data.
func (p *Parser) LoadData() (*mrdata.Dataset, error) {
	for _, path := range p.paths {
		parsed, err := dicom.ParseFile(path, nil)
		if err != nil {
			log.Debugf("load skipping %s: %v", path, err)
			continue
		}
		hdr := NewHeader(&parsed)
		if sop := hdr.String(tag.SOPClassUID); sop != p.sopClassUID {
			log.Errorf("series has inconsistent SOP class UIDs (%s vs %s)", sop, p.sopClassUID)
			p.ds.IsNonImage = true
		}
		p.elems = append(p.elems, &element{path: path, hdr: hdr})
	}
	if len(p.elems) == 0 {
		return nil, fmt.Errorf("%w: no files loaded", mrdata.ErrFormat)
	}
	sort.SliceStable(p.elems, func(i, j int) bool {
		return p.elems[i].hdr.Int(tag.InstanceNumber, 0) < p.elems[j].hdr.Int(tag.InstanceNumber, 0)
	})

	if p.strat.parseAll != nil {
		if err := p.strat.parseAll(p); err != nil {
			return nil, err
		}
	}
	if p.strat.convert != nil {
		if err := p.strat.convert(p); err != nil {
			log.Debugf("voxel data could not be loaded: %v", err)
			p.ds.Fail(err)
		}
	}
	return p.ds, nil
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
