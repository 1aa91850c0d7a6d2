package diskformat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

func TestVaultPrefixRoundTrip(t *testing.T) {
	cases := []VaultPrefix{
		{Extended: false, Version: 0, Compression: Normal, Quantity: Single, Size: 0},
		{Extended: true, Version: 5, Compression: Normal, Quantity: Single, Size: 17},
		{Extended: false, Version: 7, Compression: Compressed, Quantity: Multiple, Size: 42},
		{Extended: true, Version: 3, Compression: Compressed, Quantity: Multiple, Size: 1023},
	}
	for _, p := range cases {
		b, err := p.Encode()
		require.NoError(t, err)
		assert.Len(t, b, 2)

		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

// Scenario S1: VaultPrefix{extended=false, version=7, compression=Compressed,
// quantity=Multiple, size=42} encodes to exactly the bytes [0x7c, 0x2a].
func TestVaultPrefixScenarioS1(t *testing.T) {
	p := VaultPrefix{
		Extended:    false,
		Version:     7,
		Compression: Compressed,
		Quantity:    Multiple,
		Size:        42,
	}
	b, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7c, 0x2a}, b)
}

func TestVaultPrefixSizeOverflow(t *testing.T) {
	p := VaultPrefix{Size: maxInlineSize + 1}
	_, err := p.Encode()
	assert.ErrorIs(t, err, ErrSizeOverflow)
}

func TestEncodeDecodeRecordRaw(t *testing.T) {
	payload := []byte("a small uncompressed payload")
	rec, err := EncodeRecord(false, 1, Single, false, payload)
	require.NoError(t, err)

	prefix, got, n, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, len(rec), n)
	assert.Equal(t, Normal, prefix.Compression)
	assert.Equal(t, payload, got)
}

func TestEncodeDecodeRecordCompressed(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	rec, err := EncodeRecord(true, 2, Single, true, payload)
	require.NoError(t, err)

	prefix, got, n, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, len(rec), n)
	assert.Equal(t, Compressed, prefix.Compression)
	assert.True(t, prefix.Extended)
	assert.Equal(t, payload, got)
}

func TestDecodeAllRecordsMultiple(t *testing.T) {
	a, err := EncodeRecord(false, 0, Single, false, []byte("alpha"))
	require.NoError(t, err)
	b, err := EncodeRecord(false, 0, Single, true, []byte("beta beta beta beta beta"))
	require.NoError(t, err)

	inner := append(append([]byte{}, a...), b...)
	multi, err := EncodeRecord(false, 0, Multiple, false, inner)
	require.NoError(t, err)

	all, err := DecodeAllRecords(multi)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []byte("alpha"), all[0])
	assert.Equal(t, []byte("beta beta beta beta beta"), all[1])
}

func TestPointBodyRoundTrip(t *testing.T) {
	p := point.Point{
		Origin:    "origin-a",
		Timestamp: 1387929601271828182,
		Payload:   point.Measurement(3.14159),
	}
	addr := point.Address(0xdeadbeef)

	body := EncodePointBody(addr, p)
	got, gotAddr, err := DecodePointBody(p.Origin, body)
	require.NoError(t, err)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, p.Timestamp, got.Timestamp)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestPointBodyRoundTripTextual(t *testing.T) {
	p := point.Point{Timestamp: 42, Payload: point.Textual("hello vault")}
	addr := point.Address(7)

	body := EncodePointBody(addr, p)
	got, gotAddr, err := DecodePointBody("origin-b", body)
	require.NoError(t, err)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, p.Payload, got.Payload)
}
