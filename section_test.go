package ewf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSectionDescriptorRoundTrip(t *testing.T) {
	d := sectionDescriptor{Type: sectionTable, NextOffset: 4096, Size: 512}
	buf := d.encode()
	assert.Len(t, buf, sectionDescriptorSize)

	got, err := decodeSection(buf)
	assert.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestSectionDescriptorChecksumMismatch(t *testing.T) {
	d := sectionDescriptor{Type: sectionVolume, NextOffset: 13, Size: 1128}
	buf := d.encode()
	buf[0] ^= 0xff // corrupt the type tag after the checksum was computed

	_, err := decodeSection(buf)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindChecksumMismatch, e.Kind)
}

func TestSectionDescriptorShort(t *testing.T) {
	_, err := decodeSection(make([]byte, 10))
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindCorruptSection, e.Kind)
}

func TestSectionListFindLast(t *testing.T) {
	var l sectionList
	l.append(sectionHeader, 13, 100)
	l.append(sectionSectors, 100, 2000)
	l.append(sectionTable, 2000, 2200)
	l.append(sectionSectors, 2200, 9000)

	entry, ok := l.findLast(sectionSectors)
	assert.True(t, ok)
	assert.EqualValues(t, 9000, entry.EndOffset)
	assert.EqualValues(t, 9000, l.end())
}

func TestReadSectionAt(t *testing.T) {
	d := sectionDescriptor{Type: sectionDone, NextOffset: 0, Size: sectionDescriptorSize}
	buf := d.encode()
	got, err := readSectionAt(bytes.NewReader(buf), 0)
	assert.NoError(t, err)
	assert.Equal(t, sectionDone, got.Type)
}
