package mrdata

// ScanType is the high-level category of an acquisition, used by downstream
// pipelines to route datasets.
type ScanType string

const (
	ScanUnknown      ScanType = "unknown"
	ScanSpectroscopy ScanType = "spectroscopy"
	ScanPerfusion    ScanType = "perfusion"
	ScanShim         ScanType = "shim"
	ScanDiffusion    ScanType = "diffusion"
	ScanFieldmap     ScanType = "fieldmap"
	ScanFunctional   ScanType = "functional"
	ScanCalibration  ScanType = "calibration"
	ScanLocalizer    ScanType = "localizer"
	ScanAnatomyT1W   ScanType = "anatomy_t1w"
	ScanAnatomyT2W   ScanType = "anatomy_t2w"
	ScanAnatomy      ScanType = "anatomy"
	ScanScreenshot   ScanType = "screenshot"
)

// InferScanType classifies the acquisition from the metadata gathered so
// far. The rules are a priority-ordered decision table: positive flags
// (diffusion, localizer) win outright, then PSD categories, then numeric
// gates that separate fieldmaps, functionals and low-res calibration scans
// from anatomy. Called once all contributing fields are populated.
func (m *Metadata) InferScanType() {
	m.ScanType = ScanUnknown
	switch {
	case m.IsDWI:
		m.ScanType = ScanDiffusion
	case m.IsLocalizer:
		m.ScanType = ScanLocalizer
	case m.PSDType == PSDMRS:
		m.ScanType = ScanSpectroscopy
	case m.PSDType == PSDASL:
		m.ScanType = ScanPerfusion
	case m.PSDType == PSDHoshim:
		m.ScanType = ScanShim
	case m.PSDType == PSDSpiral && m.NumTimepoints == 2 && m.TE < 0.05:
		m.ScanType = ScanFieldmap
	case (m.PSDType == PSDEPI || m.PSDType == PSDMuxEPI) && m.TE > 0.02 && m.TE < 0.05 && m.NumTimepoints > 2:
		m.ScanType = ScanFunctional
	case (m.PSDType == PSDGRE || m.PSDType == PSDFSE) && m.FOVX >= 240 && m.FOVY >= 240 && m.MMPerVoxZ >= 4.5:
		// Large-FOV thick-slice gre/fse is either a coil calibration scan
		// or a localizer; in-plane resolution separates the two.
		if m.MMPerVoxX >= 2 {
			m.ScanType = ScanCalibration
		} else {
			m.ScanType = ScanLocalizer
		}
	case m.PSDType == PSDSPGR || m.PSDType == PSDTFL:
		m.ScanType = ScanAnatomyT1W
	case m.PSDType == PSDCube:
		m.ScanType = ScanAnatomyT2W
	}
}
