package pfile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// TensorPath returns the conventional name of the diffusion tensor file
// that accompanies a P-file in the same directory.
func TensorPath(dir, pfileName string) string {
	return fmt.Sprintf("%s/%s.7_tensor.dat", dir, pfileName)
}

// LoadBVecs populates the metadata's diffusion gradient table from a
// tensor file: an optional series-UID line, a direction count and then
// 3 x num_dirs whitespace-separated components. A UID that does not match
// the parsed series is an error; a direction-count mismatch only drops the
// table with a warning since the volume itself is still reconstructable.
func LoadBVecs(md *mrdata.Metadata, tensorPath string) error {
	f, err := os.Open(tensorPath)
	if err != nil {
		log.Warnf("tensor file %s not found", tensorPath)
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var tokens []string
	uid := ""
	ndirs := 0
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if n, err := strconv.Atoi(line); err == nil {
				ndirs = n
				continue
			}
			uid = line
			continue
		}
		if ndirs == 0 {
			n, err := strconv.Atoi(line)
			if err != nil {
				return fmt.Errorf("tensor file %s: bad direction count %q", tensorPath, line)
			}
			ndirs = n
			continue
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading tensor file %s: %w", tensorPath, err)
	}

	if uid != "" && uid != md.SeriesUID {
		return fmt.Errorf("tensor file UID %s does not match series UID %s", uid, md.SeriesUID)
	}
	if ndirs != md.DwiNumDirs || len(tokens) != 3*md.DwiNumDirs {
		log.Warnf("tensor file direction count (%d dirs, %d values) does not match header (%d dirs)", ndirs, len(tokens), md.DwiNumDirs)
		md.BVecs = [3][]float64{}
		md.BVals = nil
		return nil
	}

	// Leading volumes without diffusion weighting get zero entries.
	numNonDWI := md.NumTimepointsAvailable - md.DwiNumDirs
	if numNonDWI < 0 {
		numNonDWI = 0
	}
	total := numNonDWI + md.DwiNumDirs
	bvals := make([]float64, total)
	var bvecs [3][]float64
	for axis := 0; axis < 3; axis++ {
		bvecs[axis] = make([]float64, total)
	}
	for d := 0; d < md.DwiNumDirs; d++ {
		bvals[numNonDWI+d] = md.DwiBValue
		// Tensor files store one direction per row.
		for axis := 0; axis < 3; axis++ {
			x, err := strconv.ParseFloat(tokens[d*3+axis], 64)
			if err != nil {
				return fmt.Errorf("tensor file %s: bad component %q", tensorPath, tokens[d*3+axis])
			}
			bvecs[axis][numNonDWI+d] = x
		}
	}
	mrdata.AdjustBVecs(&bvecs, bvals, md.Manufacturer, md.Rotation)
	md.BVecs = bvecs
	md.BVals = bvals
	return nil
}
