package dcm

import (
	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// Secondary-capture image types GE scanners emit for operator screen
// grabs and saved VXTL render state.
var (
	gemsTypeScreenshot = []string{"DERIVED", "SECONDARY", "SCREEN SAVE"}
	gemsTypeVXTL       = []string{"DERIVED", "SECONDARY", "VXTL STATE"}
)

var geSCStrategy = strategy{
	name:     "ge.sc",
	parseOne: geSCParseOne,
	convert:  geSCConvert,
}

func geSCParseOne(p *Parser) error {
	md := &p.ds.Metadata
	if imageTypeEquals(p.imageType, gemsTypeScreenshot) || imageTypeEquals(p.imageType, gemsTypeVXTL) {
		md.IsScreenshot = true
		md.ScanType = mrdata.ScanScreenshot
	} else {
		md.IsNonImage = true
	}
	return nil
}

// geSCConvert stacks screenshots as planes with no patient geometry; a
// screen grab has no affine, slice order or pulse sequence.
func geSCConvert(p *Parser) error {
	md := &p.ds.Metadata
	if !md.IsScreenshot {
		return nonImageConvert(p)
	}
	log.Debug("screenshot recon")
	planes, w, h, err := collectPlanes(p.elems)
	if err != nil {
		return err
	}
	md.PSDType = ""
	md.SliceOrder = mrdata.SliceOrderUnknown
	vol, err := stackVolume(planes, w, h, len(planes), 1)
	if err != nil {
		return err
	}
	p.ds.SetData(map[string]*mrdata.Volume{mrdata.PrimaryKey: vol})
	return nil
}
