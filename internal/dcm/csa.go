package dcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrsinham/mrparse/internal/mrdata"
)

// maxCSAItems bounds the item count per CSA tag; malformed headers have
// been seen claiming absurd counts.
const maxCSAItems = 300

// CSA holds one decoded Siemens CSA subheader: tag name to item strings.
// Numeric values keep their textual form and are converted on access.
type CSA map[string][]string

// ParseCSA decodes the "SV10" (CSA2) binary subheader carried in the
// Siemens private image and series tags.
func ParseCSA(data []byte) (CSA, error) {
	if len(data) < 16 || string(data[0:4]) != "SV10" {
		return nil, fmt.Errorf("%w: not an SV10 CSA subheader", mrdata.ErrFormat)
	}
	nTags := binary.LittleEndian.Uint32(data[8:12])
	out := make(CSA, nTags)
	p := 16
	for t := uint32(0); t < nTags; t++ {
		if p+84 > len(data) {
			return nil, fmt.Errorf("%w: truncated CSA tag block", mrdata.ErrFormat)
		}
		name := string(bytes.SplitN(data[p:p+64], []byte{0}, 2)[0])
		nItems := int(int32(binary.LittleEndian.Uint32(data[p+76 : p+80])))
		p += 84
		if nItems < 0 || nItems > maxCSAItems {
			return nil, fmt.Errorf("%w: CSA tag %q claims %d items", mrdata.ErrFormat, name, nItems)
		}
		var items []string
		for i := 0; i < nItems; i++ {
			if p+16 > len(data) {
				return nil, fmt.Errorf("%w: truncated CSA item header", mrdata.ErrFormat)
			}
			itemLen := int(int32(binary.LittleEndian.Uint32(data[p+4 : p+8])))
			p += 16
			if itemLen < 0 || p+itemLen > len(data) {
				return nil, fmt.Errorf("%w: CSA item overruns buffer", mrdata.ErrFormat)
			}
			val := strings.TrimRight(string(data[p:p+itemLen]), "\x00 ")
			if val != "" {
				items = append(items, val)
			}
			p += (itemLen + 3) &^ 3
		}
		if len(items) > 0 {
			out[name] = items
		}
	}
	return out, nil
}

// String returns the first item of a CSA tag, or "" when absent.
func (c CSA) String(name string) string {
	if items := c[name]; len(items) > 0 {
		return items[0]
	}
	return ""
}

// Float returns the first item of a CSA tag as a float.
func (c CSA) Float(name string) (float64, bool) {
	s := c.String(name)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int returns the first item of a CSA tag as an int.
func (c CSA) Int(name string) (int, bool) {
	f, ok := c.Float(name)
	return int(f), ok
}

// Floats converts every item of a CSA tag; unparseable items become 0.
func (c CSA) Floats(name string) []float64 {
	items := c[name]
	if len(items) == 0 {
		return nil
	}
	out := make([]float64, len(items))
	for i, s := range items {
		out[i], _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return out
}

// Phoenix is the parsed ASCCONV section of a Siemens MrPhoenixProtocol:
// flat key/value pairs like "sSliceArray.lSize" -> "28".
type Phoenix map[string]string

const (
	ascconvBegin = "### ASCCONV BEGIN"
	ascconvEnd   = "### ASCCONV END ###"
)

// ParsePhoenix extracts the ASCCONV key/value block from a protocol dump.
// Lines that do not look like assignments are skipped, as site-patched
// protocols carry free text inside the block.
func ParsePhoenix(prot string) Phoenix {
	start := strings.Index(prot, ascconvBegin)
	end := strings.Index(prot, ascconvEnd)
	if start < 0 || end < 0 || end <= start {
		return nil
	}
	out := make(Phoenix)
	lines := strings.Split(prot[start:end], "\n")
	for _, line := range lines[1:] {
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out
}

// String returns a phoenix value, or "" when absent.
func (p Phoenix) String(key string) string { return p[key] }

// Float returns a phoenix value as a float. Hex literals (ucMode and
// friends) are accepted.
func (p Phoenix) Float(key string) (float64, bool) {
	s, ok := p[key]
	if !ok || s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int returns a phoenix value as an int.
func (p Phoenix) Int(key string, def int) int {
	f, ok := p.Float(key)
	if !ok {
		return def
	}
	return int(f)
}

// CountSuffix counts keys ending in suffix, used to count coil elements.
func (p Phoenix) CountSuffix(suffix string) int {
	n := 0
	for key := range p {
		if strings.HasSuffix(key, suffix) {
			n++
		}
	}
	return n
}

// EncodeCSA renders tag names and items back into SV10 bytes. It exists
// for the synthetic fixtures; ParseCSA(EncodeCSA(x)) round-trips.
func EncodeCSA(tags map[string][]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("SV10")
	buf.Write([]byte{4, 3, 2, 1})
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(tags)))
	buf.Write(n[:])
	binary.LittleEndian.PutUint32(n[:], 77)
	buf.Write(n[:])

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	// Deterministic output keeps fixtures stable between runs.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}

	for _, name := range names {
		items := tags[name]
		var tagHdr [84]byte
		copy(tagHdr[0:64], name)
		binary.LittleEndian.PutUint32(tagHdr[64:], 1)                  // vm
		copy(tagHdr[68:72], "CS ")                                     // vr
		binary.LittleEndian.PutUint32(tagHdr[72:], 0)                  // syngodt
		binary.LittleEndian.PutUint32(tagHdr[76:], uint32(len(items))) // nitems
		binary.LittleEndian.PutUint32(tagHdr[80:], 77)
		buf.Write(tagHdr[:])
		for _, item := range items {
			var itemHdr [16]byte
			for off := 0; off < 16; off += 4 {
				binary.LittleEndian.PutUint32(itemHdr[off:], uint32(len(item)))
			}
			buf.Write(itemHdr[:])
			buf.WriteString(item)
			if pad := (4 - len(item)%4) % 4; pad > 0 {
				buf.Write(make([]byte, pad))
			}
		}
	}
	return buf.Bytes()
}
