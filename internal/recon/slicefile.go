package recon

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// Per-slice job outputs are exchanged as a small binary tensor file: a
// magic string, the list of full-volume slice positions the payload fills,
// the payload dimensions, then the float32 elements column-major. All
// integers are little-endian.
const sliceFileMagic = "MRSL"

// WriteSliceFile writes one job's output tensor to path. locs are the
// zero-based slice positions of the full volume that vol's slice axis
// covers.
func WriteSliceFile(path string, locs []int, vol *mrdata.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	w.WriteString(sliceFileMagic)
	binary.Write(w, binary.LittleEndian, uint32(len(locs)))
	for _, l := range locs {
		binary.Write(w, binary.LittleEndian, uint32(l))
	}
	binary.Write(w, binary.LittleEndian, uint32(len(vol.Dims)))
	for _, d := range vol.Dims {
		binary.Write(w, binary.LittleEndian, uint32(d))
	}
	if err := binary.Write(w, binary.LittleEndian, vol.Data); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSliceFile reads a tensor file written by a reconstruction job.
func ReadSliceFile(path string) (locs []int, vol *mrdata.Volume, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(sliceFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != sliceFileMagic {
		return nil, nil, fmt.Errorf("%w: %s is not a slice tensor file", mrdata.ErrFormat, path)
	}
	nLocs, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}
	if nLocs > 1<<16 {
		return nil, nil, fmt.Errorf("%w: %d slice positions", mrdata.ErrFormat, nLocs)
	}
	locs = make([]int, nLocs)
	for i := range locs {
		v, err := readU32(r)
		if err != nil {
			return nil, nil, err
		}
		locs[i] = int(v)
	}
	nDims, err := readU32(r)
	if err != nil {
		return nil, nil, err
	}
	if nDims == 0 || nDims > 8 {
		return nil, nil, fmt.Errorf("%w: %d dimensions", mrdata.ErrFormat, nDims)
	}
	dims := make([]int, nDims)
	n := 1
	for i := range dims {
		v, err := readU32(r)
		if err != nil {
			return nil, nil, err
		}
		dims[i] = int(v)
		n *= dims[i]
	}
	vol = mrdata.NewVolume(dims...)
	if err := binary.Read(r, binary.LittleEndian, vol.Data); err != nil {
		return nil, nil, fmt.Errorf("%w: truncated slice tensor payload (%d elements): %v", mrdata.ErrFormat, n, err)
	}
	return locs, vol, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: truncated slice tensor header: %v", mrdata.ErrFormat, err)
	}
	return v, nil
}
