package pfile

import (
	"encoding/binary"
	"fmt"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// RawData reads the complex k-space samples that follow the header, as
// used for spectroscopy where no image reconstruction applies. The frames
// are laid out pass-major on disk with one baseline frame leading each
// echo block. The result keeps acquisition order with the complex pair as
// the fastest axis: [2, frame, frames, echos, slices, coils, passes].
func (f *File) RawData(h *Header) (*mrdata.Volume, error) {
	nFrames := int(h.Rec.NFrames) + int(h.Rec.HNover)
	nEchos := int(h.Rec.NEchoes)
	nPasses := int(h.Rec.NPasses)
	nSlices := 0
	if nPasses > 0 {
		nSlices = int(h.Rec.NSlices) / nPasses
	}
	nCoils := int(h.Rec.DabStop-h.Rec.DabStart) + 1
	frameSize := int(h.Rec.FrameSize)
	ptSize := int(h.Rec.PointSize)
	if ptSize != 2 && ptSize != 4 {
		return nil, fmt.Errorf("%w: sample size %d", mrdata.ErrFormat, ptSize)
	}
	if nFrames <= 0 || nEchos <= 0 || nSlices <= 0 || nCoils <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("%w: degenerate raw data dimensions", mrdata.ErrFormat)
	}

	frameBytes := 2 * ptSize * frameSize
	echoSize := int64(frameBytes) * int64(1+nFrames)
	sliceSize := echoSize * int64(nEchos)
	coilSize := sliceSize * int64(nSlices)
	passSize := coilSize * int64(nCoils)
	offset := int64(h.Rec.OffData)

	vol := mrdata.NewVolume(2, frameSize, nFrames, nEchos, nSlices, nCoils, nPasses)
	buf := make([]byte, frameBytes)
	for p := 0; p < nPasses; p++ {
		for c := 0; c < nCoils; c++ {
			for s := 0; s < nSlices; s++ {
				for e := 0; e < nEchos; e++ {
					for fr := 0; fr < nFrames; fr++ {
						pos := offset + int64(p)*passSize + int64(c)*coilSize + int64(s)*sliceSize + int64(e)*echoSize + int64(fr+1)*int64(frameBytes)
						if _, err := f.ra.ReadAt(buf, pos); err != nil {
							return nil, fmt.Errorf("%w: raw frame at %d: %v", mrdata.ErrFormat, pos, err)
						}
						for i := 0; i < frameSize; i++ {
							re, im := sample(buf, 2*i, ptSize), sample(buf, 2*i+1, ptSize)
							vol.Set(re, 0, i, fr, e, s, c, p)
							vol.Set(im, 1, i, fr, e, s, c, p)
						}
					}
				}
			}
		}
	}
	return vol, nil
}

func sample(buf []byte, idx, ptSize int) float32 {
	if ptSize == 2 {
		return float32(int16(binary.LittleEndian.Uint16(buf[idx*2:])))
	}
	return float32(int32(binary.LittleEndian.Uint32(buf[idx*4:])))
}
