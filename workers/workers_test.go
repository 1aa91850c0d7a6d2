package workers

import (
	"bytes"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhereSoftwareGoesToDie/vaultaire/bucket"
	"github.com/WhereSoftwareGoesToDie/vaultaire/daymap"
	"github.com/WhereSoftwareGoesToDie/vaultaire/diskformat"
	"github.com/WhereSoftwareGoesToDie/vaultaire/directory"
	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
	"github.com/WhereSoftwareGoesToDie/vaultaire/store"
	"github.com/WhereSoftwareGoesToDie/vaultaire/telemetry"
	"github.com/WhereSoftwareGoesToDie/vaultaire/transport"
	"github.com/WhereSoftwareGoesToDie/vaultaire/wire"
)

type fakeObjectStore struct {
	objects map[string][]byte
	err     error
}

func (f *fakeObjectStore) ReadFull(oid string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.objects[oid], nil
}

func (f *fakeObjectStore) Stat(oid string) (store.Stat, error) {
	return store.Stat{Size: uint64(len(f.objects[oid]))}, nil
}

func newWorkerContext(t *testing.T, fs *fakeObjectStore) *WorkerContext {
	t.Helper()
	cache := daymap.New(fs, nil)
	return &WorkerContext{Store: fs, DayCache: cache}
}

// Scenario S3: BENHUR demo origin.
func TestHandleRequestBenhurDemoOrigin(t *testing.T) {
	wc := newWorkerContext(t, &fakeObjectStore{})
	wc.DemoEnabled = true

	req := wire.Request{Origin: BenhurOrigin, TAlpha: 0, TOmega: 20 * 5e9}
	replies := wc.handleRequest(req)
	require.Len(t, replies, 1)

	// Decompress and decode to check the shape of the synthesized points.
	pts := decodeCompressedBurst(t, replies[0].Payload)
	require.NotEmpty(t, pts)
	for _, p := range pts {
		assert.Equal(t, point.SourceDict{"wave": "sine"}, p.Source)
		assert.True(t, p.Timestamp <= 20*5e9)
		assert.Equal(t, point.KindMeasurement, p.Payload.Kind)
	}
}

func TestHandleRequestBenhurDisabledReadsStore(t *testing.T) {
	fs := &fakeObjectStore{objects: map[string][]byte{}}
	wc := newWorkerContext(t, fs)
	wc.DemoEnabled = false

	req := wire.Request{Origin: BenhurOrigin, TAlpha: 0, TOmega: 100}
	replies := wc.handleRequest(req)
	assert.Empty(t, replies, "empty day maps in the store mean no points, not demo data")
}

func TestHandleInboundEndOfBurst(t *testing.T) {
	wc := newWorkerContext(t, &fakeObjectStore{})
	telCh := make(chan telemetry.Event, 8)
	wc.Telemetry = telCh

	msg := transport.InboundMessage{
		BrokerEnv:    []byte("broker"),
		ClientEnv:    []byte("client"),
		Origin:       []byte("tenant-a"),
		RequestBytes: wire.EncodeRequests([]wire.Request{{Origin: "tenant-a", TAlpha: 0, TOmega: 100}}),
	}
	replies := wc.HandleInbound(msg)
	require.NotEmpty(t, replies)
	last := replies[len(replies)-1]
	assert.Empty(t, last.Payload, "final reply must be an empty-payload end-of-burst marker")
}

// Scenario S4: malformed request body.
func TestHandleInboundMalformedRequest(t *testing.T) {
	wc := newWorkerContext(t, &fakeObjectStore{})
	telCh := make(chan telemetry.Event, 8)
	wc.Telemetry = telCh

	msg := transport.InboundMessage{
		BrokerEnv:    []byte("broker"),
		ClientEnv:    []byte("client"),
		Origin:       []byte("tenant-a"),
		RequestBytes: []byte{0xff, 0xff, 0xff},
	}
	replies := wc.HandleInbound(msg)
	require.Len(t, replies, 1)
	assert.Empty(t, replies[0].Payload)

	select {
	case ev := <-telCh:
		assert.Equal(t, "error", ev.Key)
	default:
		t.Fatal("expected an error telemetry event")
	}
}

func TestHandleRequestReadsBucketAndFilters(t *testing.T) {
	origin := point.Origin("tenant-a")
	addr := point.Address(7)
	epoch := bucket.Epoch{Start: 1000, BucketCount: 16}
	idx := bucket.BucketIndex(addr, epoch)

	inRange := point.Point{Timestamp: 1500, Payload: point.Numeric(1)}
	outOfRange := point.Point{Timestamp: 50, Payload: point.Numeric(2)}

	var body []byte
	for _, p := range []point.Point{inRange, outOfRange} {
		rec, err := diskformat.EncodeRecord(false, 0, diskformat.Single, false, diskformat.EncodePointBody(addr, p))
		require.NoError(t, err)
		body = append(body, rec...)
	}
	multi, err := diskformat.EncodeRecord(false, 0, diskformat.Multiple, false, body)
	require.NoError(t, err)

	oid := bucket.OID(origin, epoch.Start, idx, bucket.Simple)
	fs := &fakeObjectStore{objects: map[string][]byte{
		oid:                       multi,
		string(bucket.SimpleDayOID(origin)):   daymap.EncodeDayMap(bucket.DayMap{epoch}),
		string(bucket.ExtendedDayOID(origin)): daymap.EncodeDayMap(nil),
	}}
	wc := newWorkerContext(t, fs)
	wc.DayCache.RefreshOriginDays(origin)

	req := wire.Request{Origin: origin, SourceFingerprint: addr, TAlpha: 1000, TOmega: 2000}
	replies := wc.handleRequest(req)
	require.Len(t, replies, 1)

	pts := decodeCompressedBurst(t, replies[0].Payload)
	require.Len(t, pts, 1)
	assert.Equal(t, uint64(1500), pts[0].Timestamp)
}

func TestHandleContentsInboundBenhurDemo(t *testing.T) {
	fakeStore := &fakeObjectStore{}
	dir := directory.New(fakeStore, wire.DecodeSourceList, true)
	wc := &WorkerContext{Directory: dir}

	msg := transport.ContentsInbound{BrokerEnv: []byte("b"), ClientEnv: []byte("c"), Origin: []byte("BENHUR")}
	rep := wc.HandleContentsInbound(msg)

	sources, err := wire.DecodeSourceList(rep.Payload)
	require.NoError(t, err)
	assert.Equal(t, []point.SourceDict{{"wave": "sine"}}, sources)
}

func decodeCompressedBurst(t *testing.T, compressed []byte) []point.Point {
	t.Helper()
	burst := decompress(t, compressed)
	pts, err := wire.DecodeBurst(burst)
	require.NoError(t, err)
	return pts
}

func decompress(t *testing.T, compressed []byte) []byte {
	t.Helper()
	r := lz4.NewReader(bytes.NewReader(compressed))
	var out bytes.Buffer
	_, err := out.ReadFrom(r)
	require.NoError(t, err)
	return out.Bytes()
}
