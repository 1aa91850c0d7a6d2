package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

func TestEncodeDecodePointsRoundTrip(t *testing.T) {
	pts := []point.Point{
		{Source: point.SourceDict{"host": "a"}, Timestamp: 1, Payload: point.Numeric(42)},
		{Source: point.SourceDict{"host": "b"}, Timestamp: 2, Payload: point.Measurement(3.5)},
		{Source: point.SourceDict{"host": "c"}, Timestamp: 3, Payload: point.Textual("hi")},
		{Source: point.SourceDict{"host": "d"}, Timestamp: 4, Payload: point.BlobPayload([]byte{1, 2, 3})},
		{Source: point.SourceDict{"host": "e"}, Timestamp: 5, Payload: point.Empty()},
	}

	burst := EncodePoints(pts)
	got, err := DecodeBurst(burst)
	require.NoError(t, err)
	require.Len(t, got, len(pts))

	for i, want := range pts {
		assert.Equal(t, want.Timestamp, got[i].Timestamp, "frame %d timestamp", i)
		assert.Equal(t, want.Source, got[i].Source, "frame %d source", i)
		assert.Equal(t, want.Payload, got[i].Payload, "frame %d payload", i)
	}
}

func TestDecodeBurstPreservesOrder(t *testing.T) {
	pts := []point.Point{
		{Timestamp: 100, Payload: point.Numeric(1)},
		{Timestamp: 50, Payload: point.Numeric(2)},
		{Timestamp: 200, Payload: point.Numeric(3)},
	}
	got, err := DecodeBurst(EncodePoints(pts))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(100), got[0].Timestamp)
	assert.Equal(t, uint64(50), got[1].Timestamp)
	assert.Equal(t, uint64(200), got[2].Timestamp)
}

// Scenario S5: a DataFrame byte stream with an unknown tag number at the
// end decodes to the same logical Point as the same stream without it.
func TestDecodeFrameSkipsUnknownTrailingTag(t *testing.T) {
	p := point.Point{Timestamp: 7, Payload: point.Numeric(9)}

	var plain []byte
	plain = appendFrame(plain, p)
	got, err := decodeFrame(plain)
	require.NoError(t, err)

	var withUnknown []byte
	withUnknown = appendFrame(withUnknown, p)
	withUnknown = protowire.AppendTag(withUnknown, 99, protowire.VarintType)
	withUnknown = protowire.AppendVarint(withUnknown, 12345)

	gotWithUnknown, err := decodeFrame(withUnknown)
	require.NoError(t, err)

	assert.Equal(t, got, gotWithUnknown)
}

func TestDecodeRequestMultiRoundTrip(t *testing.T) {
	reqs := []Request{
		{Origin: "tenant-a", SourceFingerprint: point.Address(1), TAlpha: 10, TOmega: 20},
		{Origin: "tenant-a", SourceFingerprint: point.Address(2), TAlpha: 30, TOmega: 40},
	}
	b := EncodeRequests(reqs)
	got, err := DecodeRequestMulti("tenant-a", b)
	require.NoError(t, err)
	assert.Equal(t, reqs, got)
}

func TestDecodeRequestMultiEmpty(t *testing.T) {
	got, err := DecodeRequestMulti("tenant-a", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeDecodeSourceListRoundTrip(t *testing.T) {
	dicts := []point.SourceDict{
		{"wave": "sine"},
		{"host": "a", "metric": "cpu"},
	}
	b := EncodeSourceList(dicts)
	got, err := DecodeSourceList(b)
	require.NoError(t, err)
	assert.Equal(t, dicts, got)
}

func TestDecodeRequestMultiMalformed(t *testing.T) {
	_, err := DecodeRequestMulti("tenant-a", []byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
