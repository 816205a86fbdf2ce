package dcm

import (
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Header wraps a parsed DICOM dataset with tolerant typed accessors:
// absent tags and values that cannot be coerced yield zero values, the
// way scanner output has to be treated.
type Header struct {
	ds *dicom.Dataset
}

// NewHeader wraps a dataset.
func NewHeader(ds *dicom.Dataset) *Header { return &Header{ds: ds} }

func (h *Header) value(t tag.Tag) any {
	el, err := h.ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return nil
	}
	return el.Value.GetValue()
}

// Has reports whether the tag is present.
func (h *Header) Has(t tag.Tag) bool {
	_, err := h.ds.FindElementByTag(t)
	return err == nil
}

// Strings returns the tag's values as strings, nil when absent.
func (h *Header) Strings(t tag.Tag) []string {
	switch v := h.value(t).(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	}
	return nil
}

// String returns the tag's first value, trimmed, or "".
func (h *Header) String(t tag.Tag) string {
	if s := h.Strings(t); len(s) > 0 {
		return strings.TrimSpace(s[0])
	}
	return ""
}

// Floats returns the tag's values as floats. Decimal-string VRs (DS, IS)
// are parsed; unparseable entries drop the whole value.
func (h *Header) Floats(t tag.Tag) []float64 {
	switch v := h.value(t).(type) {
	case []float64:
		return v
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out
	case []string:
		out := make([]float64, len(v))
		for i, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil
			}
			out[i] = f
		}
		return out
	}
	return nil
}

// Float returns the tag's first value as a float.
func (h *Header) Float(t tag.Tag) (float64, bool) {
	if f := h.Floats(t); len(f) > 0 {
		return f[0], true
	}
	return 0, false
}

// Int returns the tag's first value as an int, or def.
func (h *Header) Int(t tag.Tag, def int) int {
	f, ok := h.Float(t)
	if !ok {
		return def
	}
	return int(f)
}

// Ints returns the tag's values as ints.
func (h *Header) Ints(t tag.Tag) []int {
	f := h.Floats(t)
	if f == nil {
		return nil
	}
	out := make([]int, len(f))
	for i, x := range f {
		out[i] = int(x)
	}
	return out
}

// Bytes returns the raw bytes of an OB-valued tag (CSA subheaders).
func (h *Header) Bytes(t tag.Tag) []byte {
	if v, ok := h.value(t).([]byte); ok {
		return v
	}
	return nil
}

// backslashInts splits a `1\1`-style packed value into ints. Some GE
// systems store multi-valued numeric tags this way.
func backslashInts(s string) []int {
	parts := strings.Split(s, `\`)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}
