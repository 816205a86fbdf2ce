package mrparse

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration surface, mirroring the functional
// options for deployments that prefer a config file.
type FileConfig struct {
	MaxJobs         int     `yaml:"max_jobs"`
	TempDir         string  `yaml:"temp_dir"`
	AuxFile         string  `yaml:"aux_file"`
	OctaveBin       string  `yaml:"octave_bin"`
	SpirecBin       string  `yaml:"spirec_bin"`
	ReconPath       string  `yaml:"recon_path"`
	ReconType       string  `yaml:"recon_type"`
	NumVirtualCoils int     `yaml:"num_virtual_coils"`
	NotchThreshold  float64 `yaml:"notch_threshold"`
	Debug           bool    `yaml:"debug"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return &fc, nil
}

// Options converts the file configuration into Parse options.
func (fc *FileConfig) Options() []Option {
	var opts []Option
	if fc.MaxJobs > 0 {
		opts = append(opts, WithMaxJobs(fc.MaxJobs))
	}
	if fc.TempDir != "" {
		opts = append(opts, WithTempDir(fc.TempDir))
	}
	if fc.AuxFile != "" {
		opts = append(opts, WithAuxFile(fc.AuxFile))
	}
	if fc.OctaveBin != "" || fc.SpirecBin != "" || fc.ReconPath != "" {
		opts = append(opts, WithReconBinaries(fc.OctaveBin, fc.SpirecBin, fc.ReconPath))
	}
	if fc.ReconType != "" {
		opts = append(opts, WithReconType(fc.ReconType))
	}
	if fc.NumVirtualCoils > 0 {
		opts = append(opts, WithVirtualCoils(fc.NumVirtualCoils))
	}
	if fc.NotchThreshold > 0 {
		opts = append(opts, WithNotchThreshold(fc.NotchThreshold))
	}
	return opts
}
