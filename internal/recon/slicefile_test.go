package recon

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

func TestSliceFileRoundTrip(t *testing.T) {
	vol := mrdata.NewVolume(2, 2, 2, 3)
	for i := range vol.Data {
		vol.Data[i] = float32(i) / 2
	}
	path := filepath.Join(t.TempDir(), "out.dat")
	if err := WriteSliceFile(path, []int{1, 4}, vol); err != nil {
		t.Fatalf("WriteSliceFile: %v", err)
	}
	locs, got, err := ReadSliceFile(path)
	if err != nil {
		t.Fatalf("ReadSliceFile: %v", err)
	}
	if !reflect.DeepEqual(locs, []int{1, 4}) {
		t.Errorf("locs = %v", locs)
	}
	if !reflect.DeepEqual(got.Dims, vol.Dims) || !reflect.DeepEqual(got.Data, vol.Data) {
		t.Errorf("volume round trip mismatch: %v vs %v", got.Dims, vol.Dims)
	}
}

func TestReadSliceFileBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dat")
	if err := os.WriteFile(path, []byte("not a tensor"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadSliceFile(path); !errors.Is(err, mrdata.ErrFormat) {
		t.Errorf("ReadSliceFile = %v, want ErrFormat", err)
	}
}

func TestReadSliceFileTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.dat")
	if err := WriteSliceFile(path, []int{0}, mrdata.NewVolume(4, 4, 1, 2)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-8], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadSliceFile(path); !errors.Is(err, mrdata.ErrFormat) {
		t.Errorf("ReadSliceFile = %v, want ErrFormat", err)
	}
}
