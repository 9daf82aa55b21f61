package ewf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ValueTable is an ordered mapping from identifier to UTF-8 string, used
// for both header and hash metadata. Insertion order is preserved so
// re-serializing an unmodified table round-trips byte-for-byte.
type ValueTable struct {
	order  []string
	values map[string]string
}

func NewValueTable() *ValueTable {
	return &ValueTable{values: make(map[string]string)}
}

func (t *ValueTable) Get(key string) (string, bool) {
	v, ok := t.values[key]
	return v, ok
}

func (t *ValueTable) Set(key, value string) {
	if t.values == nil {
		t.values = make(map[string]string)
	}
	if _, exists := t.values[key]; !exists {
		t.order = append(t.order, key)
	}
	t.values[key] = value
}

func (t *ValueTable) Keys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Canonical header-value identifiers.
const (
	KeyCaseNumber       = "case_number"
	KeyDescription      = "description"
	KeyEvidenceNumber   = "evidence_number"
	KeyExaminerName     = "examiner_name"
	KeyNotes            = "notes"
	KeyAcquirySoftware  = "acquiry_software_version"
	KeyAcquiryOS        = "acquiry_operating_system"
	KeyAcquiryDate      = "acquiry_date"
	KeySystemDate       = "system_date"
	KeyPasswordHash     = "password_hash"
	KeyCompressionLevel = "compression_level_char"
)

// legacy header2 short (one- or two-character) field codes, in historical EnCase
// ordering.
var headerFieldCodes = []struct {
	code string
	key  string
}{
	{"c", KeyCaseNumber},
	{"n", KeyEvidenceNumber},
	{"a", KeyDescription},
	{"e", KeyExaminerName},
	{"t", KeyNotes},
	{"av", KeyAcquirySoftware},
	{"ov", KeyAcquiryOS},
	{"m", KeyAcquiryDate},
	{"u", KeySystemDate},
	{"p", KeyPasswordHash},
	{"r", KeyCompressionLevel},
}

func codeForKey(key string) (string, bool) {
	for _, f := range headerFieldCodes {
		if f.key == key {
			return f.code, true
		}
	}
	return "", false
}

func keyForCode(code string) (string, bool) {
	for _, f := range headerFieldCodes {
		if f.code == code {
			return f.key, true
		}
	}
	return "", false
}

// emitHeaderText renders the historical tab-separated EnCase header body:
// a version line, a category line, the field-code line and the value
// line, terminated by a blank line (teacher ewf.go ParseHeaderSection
// mirrors this layout on read).
func emitHeaderText(t *ValueTable) string {
	var codes, values []string
	for _, key := range t.order {
		code, ok := codeForKey(key)
		if !ok {
			continue
		}
		codes = append(codes, code)
		values = append(values, t.values[key])
	}
	var b strings.Builder
	b.WriteString("1\n")
	b.WriteString("main\n")
	b.WriteString(strings.Join(codes, "\t") + "\n")
	b.WriteString(strings.Join(values, "\t") + "\n")
	b.WriteString("\n")
	return b.String()
}

// parseHeaderText is the inverse of emitHeaderText.
func parseHeaderText(text string) *ValueTable {
	table := NewValueTable()
	lines := strings.Split(text, "\n")
	if len(lines) < 4 {
		return table
	}
	codes := strings.Split(lines[2], "\t")
	values := strings.Split(lines[3], "\t")
	for i, code := range codes {
		if i >= len(values) {
			break
		}
		key, ok := keyForCode(strings.TrimSpace(code))
		if !ok {
			continue
		}
		table.Set(key, values[i])
	}
	return table
}

// encodeHeader builds the zlib-compressed UTF-8 `header` section payload
//.
func encodeHeader(t *ValueTable, level CompressionLevel) ([]byte, error) {
	return zlibCompress([]byte(emitHeaderText(t)), level)
}

// decodeHeader parses a `header` section payload.
func decodeHeader(payload []byte) (*ValueTable, error) {
	raw, err := zlibDecompress(payload)
	if err != nil {
		return nil, err
	}
	return parseHeaderText(string(raw)), nil
}

// encodeHeader2 builds the zlib-compressed UTF-16LE `header2` section
// payload, BOM-prefixed").
func encodeHeader2(t *ValueTable, level CompressionLevel) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewEncoder()
	utf16Bytes, _, err := transform.Bytes(enc, []byte(string(rune(0xFEFF))+emitHeaderText(t)))
	if err != nil {
		return nil, wrapErr("encodeHeader2", KindCompressionFailure, err)
	}
	return zlibCompress(utf16Bytes, level)
}

// decodeHeader2 parses a `header2` section payload, sniffing the BOM to
// pick the UTF-16 byte order (teacher internal/ewf.go ParseHeader does
// the same BOM dispatch).
func decodeHeader2(payload []byte) (*ValueTable, error) {
	raw, err := zlibDecompress(payload)
	if err != nil {
		return nil, err
	}
	text, err := decodeUTF16WithBOM(raw)
	if err != nil {
		return nil, err
	}
	return parseHeaderText(text), nil
}

func decodeUTF16WithBOM(raw []byte) (string, error) {
	if len(raw) < 2 {
		return string(raw), nil
	}
	var endian unicode.Endianness
	switch {
	case raw[0] == 0xff && raw[1] == 0xfe:
		endian = unicode.LittleEndian
	case raw[0] == 0xfe && raw[1] == 0xff:
		endian = unicode.BigEndian
	default:
		// No BOM: not UTF-16, treat as already-UTF-8 text.
		return string(raw), nil
	}
	dec := unicode.UTF16(endian, unicode.ExpectBOM).NewDecoder()
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", wrapErr("decodeUTF16WithBOM", KindDecompressionFailure, err)
	}
	return string(out), nil
}

// xheaderEntry mirrors the minimal XML schema used by `xheader`/`xhash`
//").
type xheaderEntry struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// encodeXMLValueTable builds the zlib-compressed XML payload shared by
// `xheader` and `xhash`, walking the table in insertion order so
// re-encoding an unmodified table is byte-identical.
func encodeXMLValueTable(t *ValueTable, root string) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<%s>\n", root)
	for _, key := range t.order {
		fmt.Fprintf(&b, "\t<%s>%s</%s>\n", key, xmlEscape(t.values[key]), key)
	}
	fmt.Fprintf(&b, "</%s>\n", root)
	return zlibCompress(b.Bytes(), CompressionBest)
}

// encodeXHeader builds the `xheader` section payload.
func encodeXHeader(t *ValueTable) ([]byte, error) { return encodeXMLValueTable(t, "xheader") }

// encodeXHash builds the `xhash` section payload (MD5/SHA-1 in the same
// XML framing as `xheader`, per spec.md §6.1).
func encodeXHash(t *ValueTable) ([]byte, error) { return encodeXMLValueTable(t, "xhash") }

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

// decodeXHeader parses an `xheader`/`xhash` payload, preserving document
// order via the streaming xml.Decoder rather than an unordered struct
// unmarshal.
func decodeXHeader(payload []byte) (*ValueTable, error) {
	raw, err := zlibDecompress(payload)
	if err != nil {
		return nil, err
	}
	table := NewValueTable()
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var currentKey string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch tt := tok.(type) {
		case xml.StartElement:
			if tt.Name.Local != "xheader" && tt.Name.Local != "xhash" {
				currentKey = tt.Name.Local
				// An empty element yields no CharData token; record it now
				// so empty values keep their key and position.
				table.Set(currentKey, "")
			}
		case xml.CharData:
			if currentKey != "" {
				table.Set(currentKey, strings.TrimSpace(string(tt)))
			}
		case xml.EndElement:
			currentKey = ""
		}
	}
	return table, nil
}

// DateFormat selects how acquiry_date/system_date values are rendered
//.
type DateFormat int

const (
	DateFormatCTime DateFormat = iota
	DateFormatDayMonth
	DateFormatMonthDay
	DateFormatISO8601
)

// monthNames is the corrected month table. spec.md DESIGN NOTES: "the
// legacy UTF-16 month table... index 8 is mislabeled (maps September to
// the wrong slot). Implementers should use the correct month table; do
// not replicate." This table is deliberately correct at every index.
var monthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// formatDate renders t per the chosen historical date format. Both the
// UTF-8 and (logically) UTF-16 rendering paths here use the inclusive
// copy form spec.md DESIGN NOTES calls out ("choose the UTF-8 form
// (inclusive of the terminator)") — there is a single code path, so the
// off-by-one the original had between its two variants cannot recur.
func formatDate(t time.Time, f DateFormat) string {
	switch f {
	case DateFormatDayMonth:
		return fmt.Sprintf("%02d/%02d/%04d %02d:%02d:%02d",
			t.Day(), int(t.Month()), t.Year(), t.Hour(), t.Minute(), t.Second())
	case DateFormatMonthDay:
		return fmt.Sprintf("%02d/%02d/%04d %02d:%02d:%02d",
			int(t.Month()), t.Day(), t.Year(), t.Hour(), t.Minute(), t.Second())
	case DateFormatISO8601:
		return t.UTC().Format("2006-01-02T15:04:05Z")
	default: // DateFormatCTime
		return fmt.Sprintf("%s %s %2d %02d:%02d:%02d %04d",
			t.Weekday().String()[:3], monthNames[int(t.Month())-1], t.Day(),
			t.Hour(), t.Minute(), t.Second(), t.Year())
	}
}

// parseDate is the inverse of formatDate for the ISO-8601 and slash-
// separated forms (ctime strings are acquisition metadata only and are
// not required to round-trip back into a time.Time).
func parseDate(s string, f DateFormat) (time.Time, error) {
	switch f {
	case DateFormatDayMonth:
		return time.Parse("02/01/2006 15:04:05", s)
	case DateFormatMonthDay:
		return time.Parse("01/02/2006 15:04:05", s)
	case DateFormatISO8601:
		return time.Parse("2006-01-02T15:04:05Z", s)
	default:
		return time.Time{}, newErr("parseDate", KindUnsupported, "ctime values are not parsed back")
	}
}
