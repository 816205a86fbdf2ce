package mrdata

import "strings"

// PSDType is the normalized pulse-sequence category inferred from the raw
// pulse-sequence (PSD) name.
type PSDType string

const (
	PSDUnknown  PSDType = "unknown"
	PSDService  PSDType = "service"
	PSDSpiral   PSDType = "spiral"
	PSDHoshim   PSDType = "hoshim"
	PSDBasic    PSDType = "basic"
	PSDMuxEPI   PSDType = "muxepi"
	PSDEPI      PSDType = "epi"
	PSDMRS      PSDType = "mrs"
	PSDASL      PSDType = "asl"
	PSDSPGR     PSDType = "spgr"
	PSDGRE      PSDType = "gre"
	PSDFSE      PSDType = "fse"
	PSDCube     PSDType = "cube"
	PSDFieldmap PSDType = "fieldmap"
	// PSDTFL is the Siemens turboflash family, mapped to T1 anatomy.
	PSDTFL PSDType = "tfl"
	// PSDTSE is the Siemens turbo spin echo family.
	PSDTSE PSDType = "tse"
)

// InferPSDType maps a raw pulse-sequence name to its category. The lookup
// is a name heuristic: exact names for the unambiguous sequences, substring
// matches where sites append local suffixes (mux variants, fgre/efgre3d).
func InferPSDType(psdName string) PSDType {
	name := strings.ToLower(psdName)
	switch {
	case name == "":
		return PSDUnknown
	case strings.Contains(name, "service"):
		return PSDService
	case name == "sprt":
		return PSDSpiral
	case name == "sprl_hos":
		return PSDHoshim
	case name == "basic":
		return PSDBasic
	case strings.Contains(name, "mux"), strings.Contains(name, "mb_"):
		return PSDMuxEPI
	case strings.Contains(name, "epi"):
		return PSDEPI
	case name == "probe-mega", name == "gaba_ss_cni", name == "special_siam2":
		return PSDMRS
	case name == "asl":
		return PSDASL
	case name == "bravo", name == "3dgrass":
		return PSDSPGR
	case strings.Contains(name, "fgre"):
		return PSDGRE
	case name == "ssfse":
		return PSDFSE
	case name == "cube":
		return PSDCube
	case strings.HasSuffix(name, "b1map"):
		return PSDFieldmap
	default:
		return PSDUnknown
	}
}
