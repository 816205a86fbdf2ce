// Package mrparse ingests raw clinical-scanner output into a canonical
// in-memory representation: typed metadata plus named float32 voxel
// volumes.
//
// Two input families are supported: DICOM series (bare files or tar/zip
// archives, GE and Siemens MR plus secondary captures) and GE P-file
// raw-acquisition binaries (bare, gzipped, or archived with an optional
// JSON sidecar). Parse sniffs the container, stages archive contents and
// runs a cheap identification pass; LoadData performs the full header
// decode and voxel reconstruction, shelling out to external
// reconstruction binaries for spiral and multiband sequences.
//
//	a, err := mrparse.Parse("scan.tgz")
//	if err != nil { ... }
//	defer a.Close()
//	ds, err := a.LoadData(ctx)
//	if err != nil { ... }
//	if ds.FailureReason != nil { ... } // metadata valid, voxels absent
//
// Reconstruction failures are recoverable: the dataset keeps its
// metadata and records the cause in FailureReason, so batch drivers are
// never stopped by one bad scan.
package mrparse
