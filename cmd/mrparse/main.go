package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	configFile := flag.String("config", "", "Load configuration from YAML file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	maxJobs := flag.Int("max-jobs", 0, "Maximum concurrent reconstruction processes")
	tempDir := flag.String("temp-dir", "", "Parent directory for scratch space")
	auxFile := flag.String("aux", "", "Auxiliary calibration archive for multiband scans")
	octaveBin := flag.String("octave", "", "Octave binary for multiband reconstruction")
	spirecBin := flag.String("spirec", "", "Spiral gridding binary")
	reconPath := flag.String("recon-path", "", "Octave script path for multiband reconstruction")
	reconType := flag.String("recon-type", "", "Force multiband reconstruction: sense or grappa")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mrparse %s\n", version)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  mrparse [options] <scan>...")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var opts []mrparse.Option
	if *configFile != "" {
		fc, err := mrparse.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		opts = fc.Options()
		if fc.Debug {
			*debug = true
		}
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if *maxJobs > 0 {
		opts = append(opts, mrparse.WithMaxJobs(*maxJobs))
	}
	if *tempDir != "" {
		opts = append(opts, mrparse.WithTempDir(*tempDir))
	}
	if *auxFile != "" {
		opts = append(opts, mrparse.WithAuxFile(*auxFile))
	}
	if *octaveBin != "" || *spirecBin != "" || *reconPath != "" {
		opts = append(opts, mrparse.WithReconBinaries(*octaveBin, *spirecBin, *reconPath))
	}
	if *reconType != "" {
		opts = append(opts, mrparse.WithReconType(*reconType))
	}

	failed := false
	for _, path := range flag.Args() {
		if err := process(path, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func process(path string, opts []mrparse.Option) error {
	a, err := mrparse.Parse(path, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.LoadData(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", path, a.Filetype)
	fmt.Printf("  exam %d series %d acq %d  %s\n", ds.ExamNo, ds.SeriesNo, ds.AcqNo, ds.SeriesDesc)
	fmt.Printf("  psd %s (%s)  scan type %s\n", ds.PSDName, ds.PSDType, ds.ScanType)
	if !ds.Timestamp.IsZero() {
		fmt.Printf("  acquired %s\n", ds.Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  matrix %dx%d  %d slices x %d timepoints  voxel %.2fx%.2fx%.2f mm\n",
		ds.SizeX, ds.SizeY, ds.NumSlices, ds.NumTimepoints,
		ds.MMPerVoxX, ds.MMPerVoxY, ds.MMPerVoxZ)
	if ds.FailureReason != nil {
		fmt.Printf("  reconstruction failed: %v\n", ds.FailureReason)
		return nil
	}
	if len(ds.Data) == 0 {
		fmt.Println("  no voxel data (non-image or metadata-only scan)")
		return nil
	}
	var labels []string
	for label, vol := range ds.Data {
		if label == "" {
			label = "primary"
		}
		labels = append(labels, fmt.Sprintf("%s %v", label, vol.Dims))
	}
	fmt.Printf("  volumes: %s\n", strings.Join(labels, ", "))
	return nil
}
