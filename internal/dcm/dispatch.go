package dcm

import (
	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// strategy bundles the three vendor hooks: single-file parse, series-wide
// parse and voxel conversion. Resolved once per series and held by value;
// nil hooks are skipped.
type strategy struct {
	name     string
	parseOne func(p *Parser) error
	parseAll func(p *Parser) error
	convert  func(p *Parser) error
}

var supportedManufacturers = map[string]string{
	"GE MEDICAL SYSTEMS": "ge",
	"SIEMENS":            "siemens",
}

var supportedSOPClasses = map[string]string{
	"1.2.840.10008.5.1.4.1.1.4":     "mr",
	"1.2.840.10008.5.1.4.1.1.7":     "sc",
	"1.3.12.2.1107.5.9.1":           "syngo_csa", // Siemens private non-image
	"1.2.840.10008.5.1.4.1.1.88.22": "enhanced_sr",
	"1.2.840.10008.5.1.4.1.1.128":   "pet",
}

// strategyFor resolves the vendor strategy for a manufacturer / SOP class
// pair. Pairs without a dedicated module fall back to the generic
// strategy, which parses identification only and produces no voxel data.
func strategyFor(manufacturer, sopClassUID string) strategy {
	mfr := supportedManufacturers[manufacturer]
	sop := supportedSOPClasses[sopClassUID]
	for _, s := range vendorStrategies {
		if s.mfr == mfr && s.sop == sop {
			log.Debugf("using %s strategy", s.strategy.name)
			return s.strategy
		}
	}
	log.Warnf("no vendor module for %q / %q, parsing basic info only", manufacturer, sopClassUID)
	return genericStrategy
}

var vendorStrategies = []struct {
	mfr, sop string
	strategy strategy
}{
	{"ge", "mr", geMRStrategy},
	{"siemens", "mr", siemensMRStrategy},
	{"ge", "sc", geSCStrategy},
	{"siemens", "syngo_csa", siemensSyngoCSAStrategy},
}

// genericStrategy handles series no module claims: standard MR tags when
// present, an empty voxel map.
var genericStrategy = strategy{
	name: "generic",
	convert: func(p *Parser) error {
		p.ds.Data = map[string]*mrdata.Volume{}
		return nil
	},
}
