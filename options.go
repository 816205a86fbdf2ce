package mrparse

import "github.com/mrsinham/mrparse/internal/recon"

type config struct {
	registry Registry
	recon    recon.Options
}

func newConfig(opts []Option) *config {
	cfg := &config{registry: DefaultRegistry()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures Parse.
type Option func(*config)

// WithRegistry replaces the filetype registry.
func WithRegistry(r Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithMaxJobs bounds the number of concurrently running external
// reconstruction processes.
func WithMaxJobs(n int) Option {
	return func(c *config) { c.recon.MaxJobs = n }
}

// WithTempDir sets the parent directory for staging and reconstruction
// scratch space.
func WithTempDir(dir string) Option {
	return func(c *config) { c.recon.TempDir = dir }
}

// WithAuxFile supplies an auxiliary calibration archive for multiband
// scans without their own calibration.
func WithAuxFile(path string) Option {
	return func(c *config) { c.recon.AuxFile = path }
}

// WithReconBinaries overrides the external reconstruction commands and
// the octave script path.
func WithReconBinaries(octave, spirec, reconPath string) Option {
	return func(c *config) {
		c.recon.OctaveBin = octave
		c.recon.SpirecBin = spirec
		c.recon.ReconPath = reconPath
	}
}

// WithReconType forces "sense" or "grappa" multiband reconstruction.
func WithReconType(t string) Option {
	return func(c *config) { c.recon.ReconType = t }
}

// WithVirtualCoils compresses the receive array to n virtual coils
// before multiband reconstruction; 0 keeps every physical coil.
func WithVirtualCoils(n int) Option {
	return func(c *config) { c.recon.NumVirtualCoils = n }
}

// WithNotchThreshold enables notch filtering of spuriously dim frames.
func WithNotchThreshold(t float64) Option {
	return func(c *config) { c.recon.NotchThresh = t }
}

// Runner executes one external reconstruction process; see WithRunner.
type Runner = recon.Runner

// WithRunner substitutes the external-process launcher, for tests.
func WithRunner(r Runner) Option {
	return func(c *config) { c.recon.Runner = r }
}
