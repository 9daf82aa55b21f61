package ewf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newSampleHeaderTable() *ValueTable {
	t := NewValueTable()
	t.Set(KeyCaseNumber, "case-001")
	t.Set(KeyEvidenceNumber, "ev-1")
	t.Set(KeyDescription, "sample acquisition")
	t.Set(KeyExaminerName, "jdoe")
	t.Set(KeyNotes, "")
	t.Set(KeyAcquirySoftware, "1.0")
	t.Set(KeyAcquiryOS, "linux")
	t.Set(KeyAcquiryDate, "07/31/2026 10:00:00")
	t.Set(KeySystemDate, "07/31/2026 10:00:00")
	return t
}

func TestValueTablePreservesInsertionOrder(t *testing.T) {
	table := newSampleHeaderTable()
	keys := table.Keys()
	assert.Equal(t, KeyCaseNumber, keys[0])
	assert.Equal(t, KeyEvidenceNumber, keys[1])
	assert.Equal(t, KeySystemDate, keys[len(keys)-1])
}

func TestHeaderTextRoundTrip(t *testing.T) {
	table := newSampleHeaderTable()
	text := emitHeaderText(table)
	got := parseHeaderText(text)

	for _, key := range table.Keys() {
		want, _ := table.Get(key)
		have, ok := got.Get(key)
		assert.True(t, ok, "missing key %q after round trip", key)
		assert.Equal(t, want, have)
	}
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	table := newSampleHeaderTable()
	payload, err := encodeHeader(table, CompressionFast)
	assert.NoError(t, err)

	got, err := decodeHeader(payload)
	assert.NoError(t, err)
	caseNumber, _ := got.Get(KeyCaseNumber)
	assert.Equal(t, "case-001", caseNumber)
}

func TestEncodeDecodeHeader2RoundTrip(t *testing.T) {
	table := newSampleHeaderTable()
	payload, err := encodeHeader2(table, CompressionBest)
	assert.NoError(t, err)

	got, err := decodeHeader2(payload)
	assert.NoError(t, err)
	examiner, _ := got.Get(KeyExaminerName)
	assert.Equal(t, "jdoe", examiner)
}

func TestEncodeDecodeXHeaderPreservesOrder(t *testing.T) {
	table := newSampleHeaderTable()
	payload, err := encodeXHeader(table)
	assert.NoError(t, err)

	got, err := decodeXHeader(payload)
	assert.NoError(t, err)
	assert.Equal(t, table.Keys(), got.Keys())
}

func TestEncodeDecodeXHashPreservesOrder(t *testing.T) {
	table := NewValueTable()
	table.Set(KeyMD5, "d41d8cd98f00b204e9800998ecf8427e")
	table.Set(KeySHA1, "da39a3ee5e6b4b0d3255bfef95601890afd80709")

	payload, err := encodeXHash(table)
	assert.NoError(t, err)

	got, err := decodeXHeader(payload)
	assert.NoError(t, err)
	assert.Equal(t, table.Keys(), got.Keys())
	md5, _ := got.Get(KeyMD5)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", md5)
}

func TestMonthNamesAreInOrder(t *testing.T) {
	// spec.md DESIGN NOTES calls out a historical off-by-one in the month
	// table; this asserts September actually lands on index 8.
	assert.Equal(t, "Sep", monthNames[8])
	assert.Equal(t, "Jan", monthNames[0])
	assert.Equal(t, "Dec", monthNames[11])
}

func TestFormatDateISO8601RoundTrip(t *testing.T) {
	ts := time.Date(2026, time.July, 31, 10, 30, 0, 0, time.UTC)
	s := formatDate(ts, DateFormatISO8601)
	got, err := parseDate(s, DateFormatISO8601)
	assert.NoError(t, err)
	assert.True(t, ts.Equal(got))
}

func TestFormatDateDayMonthAndMonthDayDiffer(t *testing.T) {
	ts := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	dayMonth := formatDate(ts, DateFormatDayMonth)
	monthDay := formatDate(ts, DateFormatMonthDay)
	assert.Equal(t, "04/03/2026 09:00:00", dayMonth)
	assert.Equal(t, "03/04/2026 09:00:00", monthDay)
}
