// Package mrdata holds the canonical in-memory representation of one
// scanner acquisition: typed metadata, named voxel volumes and the shared
// inference and geometry helpers used by every format reader.
package mrdata

import (
	log "github.com/sirupsen/logrus"
)

// PrimaryKey is the voxel-map label of the primary reconstructed volume.
// Auxiliary volumes (such as a field map) use non-empty labels.
const PrimaryKey = ""

// Dataset is one assembled acquisition: metadata plus a map from label to
// voxel volume. It is created cheaply at parse time, filled in by a full
// load, and owned exclusively by the caller that requested parsing.
type Dataset struct {
	Metadata

	// Data maps a label to a reconstructed volume. Nil until a
	// reconstruction strategy succeeds; a label is either fully populated
	// or absent, never partial.
	Data map[string]*Volume

	// FailureReason records a recoverable reconstruction failure. Metadata
	// stays valid when it is set; callers must check it even when no error
	// was returned.
	FailureReason error
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{}
}

// SetData atomically installs a complete set of reconstructed volumes,
// repairing metadata counts that disagree with the primary volume's actual
// dimensions. Scanners occasionally report slice or timepoint counts that
// the reconstruction disproves; the array wins.
func (d *Dataset) SetData(volumes map[string]*Volume) {
	primary := volumes[PrimaryKey]
	if primary != nil {
		if nx := primary.Dim(0); d.SizeX != 0 && nx != d.SizeX {
			log.Debugf("adjusting size_x from %d to %d to match voxel data", d.SizeX, nx)
			d.SizeX = nx
		}
		if ny := primary.Dim(1); d.SizeY != 0 && ny != d.SizeY {
			log.Debugf("adjusting size_y from %d to %d to match voxel data", d.SizeY, ny)
			d.SizeY = ny
		}
		if nz := primary.Dim(2); d.NumSlices != 0 && nz != d.NumSlices {
			log.Debugf("adjusting num_slices from %d to %d to match voxel data", d.NumSlices, nz)
			d.NumSlices = nz
		}
		if nt := primary.Dim(3); d.NumTimepoints != 0 && nt != d.NumTimepoints {
			log.Debugf("adjusting num_timepoints from %d to %d to match voxel data", d.NumTimepoints, nt)
			d.NumTimepoints = nt
		}
	}
	d.Data = volumes
}

// Primary returns the primary volume, or nil when reconstruction has not
// produced one.
func (d *Dataset) Primary() *Volume {
	if d.Data == nil {
		return nil
	}
	return d.Data[PrimaryKey]
}

// Fail records err as the dataset's recoverable failure and drops any
// voxel data.
func (d *Dataset) Fail(err error) {
	d.FailureReason = err
	d.Data = nil
}
