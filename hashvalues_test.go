package ewf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexRoundTrip(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	hex := bytesToHex(raw)
	assert.Equal(t, "deadbeef0001", hex)
	assert.Equal(t, raw, hexToBytes(hex, len(raw)))
}

func TestEncodeDecodeHashRoundTrip(t *testing.T) {
	table := NewValueTable()
	table.Set(KeyMD5, "d41d8cd98f00b204e9800998ecf8427e")

	payload := encodeHash(table)
	assert.Len(t, payload, hashPayloadSize)

	got, err := decodeHash(payload)
	assert.NoError(t, err)
	md5, ok := got.Get(KeyMD5)
	assert.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", md5)
}

func TestDecodeHashChecksumMismatch(t *testing.T) {
	table := NewValueTable()
	table.Set(KeyMD5, "d41d8cd98f00b204e9800998ecf8427e")
	payload := encodeHash(table)
	payload[0] ^= 0xff

	_, err := decodeHash(payload)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindChecksumMismatch, e.Kind)
}

func TestEncodeDecodeDigestRoundTrip(t *testing.T) {
	table := NewValueTable()
	table.Set(KeyMD5, "d41d8cd98f00b204e9800998ecf8427e")
	table.Set(KeySHA1, "da39a3ee5e6b4b0d3255bfef95601890afd80709")

	payload := encodeDigest(table)
	assert.Len(t, payload, digestPayloadSize)

	got, err := decodeDigest(payload)
	assert.NoError(t, err)
	sha1, ok := got.Get(KeySHA1)
	assert.True(t, ok)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", sha1)
}
