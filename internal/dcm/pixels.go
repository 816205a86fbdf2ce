package dcm

import (
	"fmt"
	"image"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// framePixels decodes one element's pixel data into per-frame grayscale
// planes. Each plane is x-fastest, matching Volume layout.
func framePixels(h *Header) (planes [][]float32, width, height int, err error) {
	el, err := h.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: no pixel data", mrdata.ErrFormat)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty pixel data", mrdata.ErrFormat)
	}
	for _, fr := range info.Frames {
		img, err := fr.GetImage()
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: decoding frame: %v", mrdata.ErrFormat, err)
		}
		gray := toGray16(img)
		b := gray.Bounds()
		w, ht := b.Dx(), b.Dy()
		if width == 0 {
			width, height = w, ht
		} else if w != width || ht != height {
			return nil, 0, 0, fmt.Errorf("%w: frame size %dx%d differs from %dx%d", mrdata.ErrGeometryMismatch, w, ht, width, height)
		}
		plane := make([]float32, w*ht)
		for y := 0; y < ht; y++ {
			for x := 0; x < w; x++ {
				plane[y*w+x] = float32(gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		planes = append(planes, plane)
	}
	return planes, width, height, nil
}

func toGray16(img image.Image) *image.Gray16 {
	if g, ok := img.(*image.Gray16); ok {
		return g
	}
	out := image.NewGray16(img.Bounds())
	draw.Copy(out, img.Bounds().Min, img, img.Bounds(), draw.Src, nil)
	return out
}

// stackVolume assembles per-element frame planes into a Volume with the
// given slice and timepoint counts. Planes are appended in element order,
// slice index varying fastest.
func stackVolume(planes [][]float32, width, height, numSlices, numTimepoints int) (*mrdata.Volume, error) {
	if numSlices <= 0 || numTimepoints <= 0 {
		return nil, fmt.Errorf("%w: cannot shape %d planes into %dx%d volumes", mrdata.ErrGeometryMismatch, len(planes), numSlices, numTimepoints)
	}
	if len(planes) != numSlices*numTimepoints {
		return nil, fmt.Errorf("%w: %d planes for %d slices x %d timepoints", mrdata.ErrGeometryMismatch, len(planes), numSlices, numTimepoints)
	}
	vol := mrdata.NewVolume(width, height, numSlices, numTimepoints)
	plane := width * height
	for i, p := range planes {
		if len(p) != plane {
			return nil, fmt.Errorf("%w: plane %d has %d pixels, want %d", mrdata.ErrGeometryMismatch, i, len(p), plane)
		}
		copy(vol.Data[i*plane:(i+1)*plane], p)
	}
	return vol, nil
}

// untileMosaic slices a Siemens mosaic plane into numSlices tile planes.
// The mosaic is a tileDim x tileDim grid of sliceW x sliceH tiles, filled
// row-major.
func untileMosaic(plane []float32, mosaicW, sliceW, sliceH, tileDim, numSlices int) [][]float32 {
	out := make([][]float32, 0, numSlices)
	for s := 0; s < numSlices; s++ {
		tileX := (s % tileDim) * sliceW
		tileY := (s / tileDim) * sliceH
		tile := make([]float32, sliceW*sliceH)
		for y := 0; y < sliceH; y++ {
			row := (tileY+y)*mosaicW + tileX
			copy(tile[y*sliceW:(y+1)*sliceW], plane[row:row+sliceW])
		}
		out = append(out, tile)
	}
	return out
}
