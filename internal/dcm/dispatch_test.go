package dcm

import (
	"testing"

	"github.com/mrsinham/mrparse/internal/synth"
)

func TestStrategyFor(t *testing.T) {
	cases := []struct {
		mfr, sop string
		want     string
	}{
		{"GE MEDICAL SYSTEMS", "1.2.840.10008.5.1.4.1.1.4", "ge.mr"},
		{"SIEMENS", "1.2.840.10008.5.1.4.1.1.4", "siemens.mr"},
		{"GE MEDICAL SYSTEMS", "1.2.840.10008.5.1.4.1.1.7", "ge.sc"},
		{"SIEMENS", "1.3.12.2.1107.5.9.1", "siemens.syngo_csa"},
		{"PHILIPS", "1.2.840.10008.5.1.4.1.1.4", "generic"},
		{"GE MEDICAL SYSTEMS", "1.2.840.10008.5.1.4.1.1.128", "generic"},
		{"", "", "generic"},
	}
	for _, tc := range cases {
		if got := strategyFor(tc.mfr, tc.sop).name; got != tc.want {
			t.Errorf("strategyFor(%q, %q) = %q, want %q", tc.mfr, tc.sop, got, tc.want)
		}
	}
}

func TestGenericStrategyProducesNoVoxels(t *testing.T) {
	s := &synth.Series{
		Manufacturer: "PHILIPS",
		NumSlices:    2,
	}
	paths, err := s.Write(t.TempDir())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	p, err := NewParser(paths)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	md := p.Metadata()
	if md.SeriesUID == "" || md.ExamNo != 4628 {
		t.Errorf("identification not parsed: uid=%q exam=%d", md.SeriesUID, md.ExamNo)
	}
	ds, err := p.LoadData()
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if ds.Data == nil || len(ds.Data) != 0 {
		t.Errorf("generic strategy Data = %v, want empty map", ds.Data)
	}
}
