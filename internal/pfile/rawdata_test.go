package pfile

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

func rawHeader() *Header {
	h := testHeader(V24)
	h.Image.PSDName = "probe-mega"
	h.Rec.NFrames = 2
	h.Rec.HNover = 0
	h.Rec.NEchoes = 1
	h.Rec.NPasses = 1
	h.Rec.NSlices = 1
	h.Rec.DabStart = 0
	h.Rec.DabStop = 0
	h.Rec.FrameSize = 4
	h.Rec.PointSize = 2
	return h
}

func TestRawData(t *testing.T) {
	h := rawHeader()
	data, err := EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}

	// One coil, one slice, one echo: a zero baseline frame followed by two
	// acquired frames of four complex int16 samples each.
	payload := make([]byte, 48)
	for fr := 0; fr < 2; fr++ {
		for i := 0; i < 4; i++ {
			v := int16(fr*4 + i + 1)
			binary.LittleEndian.PutUint16(payload[(fr+1)*16+4*i:], uint16(v))
			binary.LittleEndian.PutUint16(payload[(fr+1)*16+4*i+2:], uint16(-v))
		}
	}

	f, err := Open(writeTempPFile(t, append(data, payload...)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	vol, err := f.RawData(h)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{2, 4, 2, 1, 1, 1, 1}; !reflect.DeepEqual(vol.Dims, want) {
		t.Fatalf("dims = %v, want %v", vol.Dims, want)
	}
	for fr := 0; fr < 2; fr++ {
		for i := 0; i < 4; i++ {
			want := float32(fr*4 + i + 1)
			if got := vol.At(0, i, fr, 0, 0, 0, 0); got != want {
				t.Errorf("real[%d][%d] = %v, want %v", fr, i, got, want)
			}
			if got := vol.At(1, i, fr, 0, 0, 0, 0); got != -want {
				t.Errorf("imag[%d][%d] = %v, want %v", fr, i, got, -want)
			}
		}
	}
}

func TestRawDataBadPointSize(t *testing.T) {
	h := rawHeader()
	h.Rec.PointSize = 3
	data, err := EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(writeTempPFile(t, data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.RawData(h); !errors.Is(err, mrdata.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestRawDataTruncatedPayload(t *testing.T) {
	h := rawHeader()
	data, err := EncodeHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(writeTempPFile(t, data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.RawData(h); !errors.Is(err, mrdata.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}
