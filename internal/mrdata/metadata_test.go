package mrdata

import (
	"errors"
	"testing"
	"time"
)

func TestParsePatientID(t *testing.T) {
	tests := []struct {
		name         string
		patientID    string
		defaultCode  string
		wantSubj     string
		wantGroup    string
		wantExp      string
	}{
		{
			name:        "full form",
			patientID:   "s042@cnilab/revlearn",
			defaultCode: "ex1234",
			wantSubj:    "s042",
			wantGroup:   "cnilab",
			wantExp:     "revlearn",
		},
		{
			name:        "no subject code falls back to default",
			patientID:   "@cnilab/revlearn",
			defaultCode: "ex1234",
			wantSubj:    "ex1234",
			wantGroup:   "cnilab",
			wantExp:     "revlearn",
		},
		{
			name:        "plain id is group info only",
			patientID:   "cnilab/revlearn",
			defaultCode: "ex1234",
			wantSubj:    "ex1234",
			wantGroup:   "cnilab",
			wantExp:     "revlearn",
		},
		{
			name:        "empty id",
			patientID:   "",
			defaultCode: "ex1234",
			wantSubj:    "ex1234",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subj, group, exp := ParsePatientID(tt.patientID, tt.defaultCode)
			if subj != tt.wantSubj || group != tt.wantGroup || exp != tt.wantExp {
				t.Errorf("got (%q, %q, %q), want (%q, %q, %q)",
					subj, group, exp, tt.wantSubj, tt.wantGroup, tt.wantExp)
			}
		})
	}
}

func TestParsePatientName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantFirst string
		wantLast  string
	}{
		{"dicom caret form", "DOE^JANE", "Jane", "Doe"},
		{"space form", "jane doe", "Jane", "Doe"},
		{"single token", "doe", "", "Doe"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := ParsePatientName(tt.input)
			if first != tt.wantFirst || last != tt.wantLast {
				t.Errorf("got (%q, %q), want (%q, %q)", first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestParsePatientDOB(t *testing.T) {
	if got := ParsePatientDOB("19840521"); got.Year() != 1984 || got.Month() != time.May {
		t.Errorf("ParsePatientDOB = %v", got)
	}
	if got := ParsePatientDOB("18121225"); !got.IsZero() {
		t.Errorf("pre-1900 placeholder accepted: %v", got)
	}
	if got := ParsePatientDOB("not-a-date"); !got.IsZero() {
		t.Errorf("garbage accepted: %v", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	got := ParseTimestamp("20140310", "1430590.123")
	want := time.Date(2014, 3, 10, 14, 30, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseTimestamp = %v, want %v", got, want)
	}
	if got := ParseTimestamp("", "120000"); !got.IsZero() {
		t.Errorf("empty date produced %v", got)
	}
}

func TestDatasetSetDataRepairsCounts(t *testing.T) {
	d := NewDataset()
	d.SizeX, d.SizeY = 64, 64
	d.NumSlices = 30
	d.NumTimepoints = 3

	vol := NewVolume(64, 64, 10, 2)
	d.SetData(map[string]*Volume{PrimaryKey: vol})

	if d.NumSlices != 10 {
		t.Errorf("num_slices = %d, want 10 (repaired from array)", d.NumSlices)
	}
	if d.NumTimepoints != 2 {
		t.Errorf("num_timepoints = %d, want 2 (repaired from array)", d.NumTimepoints)
	}
	if d.Primary() != vol {
		t.Error("Primary() did not return the installed volume")
	}
}

func TestDatasetFail(t *testing.T) {
	d := NewDataset()
	d.SetData(map[string]*Volume{PrimaryKey: NewVolume(2, 2)})
	cause := errors.New("solver crashed")
	d.Fail(&ReconError{Strategy: "mux", Err: cause})

	if d.Data != nil {
		t.Error("voxel data survived a recorded failure")
	}
	var re *ReconError
	if !errors.As(d.FailureReason, &re) {
		t.Fatalf("FailureReason = %v, want *ReconError", d.FailureReason)
	}
	if !errors.Is(d.FailureReason, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}
