// Package workers implements the reader and contents workers: the daemon's
// two kinds of request handler. A WorkerContext carries every dependency a
// handler needs as an explicit struct, replacing the stacked-monad style of
// wrapping store access and dispatch state that an older implementation
// might reach for.
package workers

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/WhereSoftwareGoesToDie/vaultaire/bucket"
	"github.com/WhereSoftwareGoesToDie/vaultaire/daymap"
	"github.com/WhereSoftwareGoesToDie/vaultaire/diskformat"
	"github.com/WhereSoftwareGoesToDie/vaultaire/directory"
	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
	"github.com/WhereSoftwareGoesToDie/vaultaire/telemetry"
	"github.com/WhereSoftwareGoesToDie/vaultaire/transport"
	"github.com/WhereSoftwareGoesToDie/vaultaire/wire"
)

// ObjectStore is the subset of store.Pool a reader worker needs.
type ObjectStore interface {
	ReadFull(oid string) ([]byte, error)
}

// WorkerContext carries every dependency a reader or contents worker needs,
// passed explicitly rather than threaded through ambient state.
type WorkerContext struct {
	Store       ObjectStore
	DayCache    *daymap.Cache
	Directory   *directory.Directory
	Telemetry   chan<- telemetry.Event
	DemoEnabled bool
	// Logger carries a per-worker identity baked in as structured data
	// (e.g. a worker index) so every line a worker emits is attributable
	// without repeating the field at every call site.
	Logger *log.KVLogger
}

// BenhurOrigin mirrors directory.BenhurOrigin; reproduced here as a literal
// so the reader worker's demo path is self-contained and doesn't create a
// workers -> directory -> workers dependency for a single constant.
const BenhurOrigin point.Origin = "BENHUR"

// benhurAnchor is the k=0 timestamp origin (nanoseconds) the demo
// oscillator is phased against. Fixed at zero so demo output is
// reproducible across requests and across restarts.
const benhurAnchor uint64 = 0
const benhurStep uint64 = 5e9
const benhurCount = 20000
const benhurPeriodSeconds = 10800.0

func synthesizeBenhur(tAlpha, tOmega uint64) []point.Point {
	var pts []point.Point
	for k := uint64(0); k < benhurCount; k++ {
		ts := benhurAnchor + benhurStep*k
		if ts < tAlpha || ts > tOmega {
			if ts > tOmega {
				break
			}
			continue
		}
		tSeconds := float64(ts) / 1e9
		value := math.Sin(2 * math.Pi * tSeconds / benhurPeriodSeconds)
		pts = append(pts, point.Point{
			Origin:    BenhurOrigin,
			Source:    point.SourceDict{"wave": "sine"},
			Timestamp: ts,
			Payload:   point.Measurement(value),
		})
	}
	return pts
}

// fetchBucketPoints reads and decodes every point record in the bucket
// object identified by origin/epoch/bucketIndex/kind. An empty body yields
// no points and no error; a read failure (on store.Pool this includes a
// missing object, whose Stat fails) is returned as an error.
func (wc *WorkerContext) fetchBucketPoints(origin point.Origin, epoch bucket.Epoch, bucketIndex uint64, kind bucket.Kind) ([]point.Point, error) {
	oid := bucket.OID(origin, epoch.Start, bucketIndex, kind)
	body, err := wc.Store.ReadFull(oid)
	if err != nil {
		return nil, fmt.Errorf("workers: read bucket %s: %w", oid, err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	records, err := diskformat.DecodeAllRecords(body)
	if err != nil {
		return nil, fmt.Errorf("workers: decode bucket %s: %w", oid, err)
	}
	pts := make([]point.Point, 0, len(records))
	for _, rec := range records {
		p, _, err := diskformat.DecodePointBody(origin, rec)
		if err != nil {
			return nil, fmt.Errorf("workers: decode point body in %s: %w", oid, err)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// pointsForEpochs walks every timemark in dm intersecting [tAlpha, tOmega]
// and accumulates the points found in the corresponding bucket objects,
// skipping buckets that fail to read or are empty.
func (wc *WorkerContext) pointsForEpochs(origin point.Origin, addr point.Address, dm bucket.DayMap, kind bucket.Kind, tAlpha, tOmega uint64) []point.Point {
	var out []point.Point
	for _, mark := range bucket.CalculateTimeMarks(dm, tAlpha, tOmega) {
		idx := bucket.BucketIndex(addr, mark.Epoch)
		pts, err := wc.fetchBucketPoints(origin, mark.Epoch, idx, kind)
		if err != nil {
			if wc.Logger != nil {
				wc.Logger.Warn("workers: skipping unreadable bucket", log.KVErr(err))
			}
			continue
		}
		out = append(out, pts...)
	}
	return out
}

// filterRange keeps only points with t_alpha <= timestamp <= t_omega.
func filterRange(pts []point.Point, tAlpha, tOmega uint64) []point.Point {
	out := pts[:0:0]
	for _, p := range pts {
		if p.Timestamp >= tAlpha && p.Timestamp <= tOmega {
			out = append(out, p)
		}
	}
	return out
}

// compressBurst LZ4-frame-compresses an encoded DataBurst. An empty input
// compresses to an empty output, matching the end-of-burst convention.
func compressBurst(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleRequest resolves one Request to at most one Reply. That Reply holds
// the matching points of every epoch: those from the simple day map first,
// in ascending epoch order, then those from the extended day map likewise.
// Points are not split into one Reply per epoch or per bucket.
func (wc *WorkerContext) handleRequest(req wire.Request) []transport.Reply {
	var marks []point.Point
	if req.Origin == BenhurOrigin && wc.DemoEnabled {
		marks = filterRange(synthesizeBenhur(req.TAlpha, req.TOmega), req.TAlpha, req.TOmega)
	} else {
		// §4.6 step 3a: refresh the cache (load-or-revalidate) before
		// reading it -- otherwise a cold cache has no entry and every real
		// origin silently returns no points.
		wc.DayCache.RefreshOriginDays(req.Origin)

		var simpleDM, extendedDM bucket.DayMap
		wc.DayCache.WithSimpleDayMap(req.Origin, func(d bucket.DayMap) { simpleDM = d })
		wc.DayCache.WithExtendedDayMap(req.Origin, func(d bucket.DayMap) { extendedDM = d })

		pts := wc.pointsForEpochs(req.Origin, req.SourceFingerprint, simpleDM, bucket.Simple, req.TAlpha, req.TOmega)
		pts = append(pts, wc.pointsForEpochs(req.Origin, req.SourceFingerprint, extendedDM, bucket.Extended, req.TAlpha, req.TOmega)...)
		marks = filterRange(pts, req.TAlpha, req.TOmega)
	}

	if len(marks) == 0 {
		return nil
	}

	burst := wire.EncodePoints(marks)
	compressed, err := compressBurst(burst)
	if err != nil {
		if wc.Logger != nil {
			wc.Logger.Warn("workers: compression failed, emitting empty payload", log.KVErr(err))
		}
		compressed = nil
	}
	return []transport.Reply{{Payload: compressed}}
}

// HandleInbound implements reader worker steps 2-5 for a single inbound
// message; it does not perform the blocking receive itself, so it can be
// exercised directly in tests.
func (wc *WorkerContext) HandleInbound(msg transport.InboundMessage) []transport.Reply {
	start := time.Now()

	reqs, err := wire.DecodeRequestMulti(point.Origin(msg.Origin), msg.RequestBytes)
	if err != nil {
		if wc.Telemetry != nil {
			wc.Telemetry <- telemetry.Error(err.Error())
		}
		return []transport.Reply{{BrokerEnv: msg.BrokerEnv, ClientEnv: msg.ClientEnv, Payload: nil}}
	}

	var replies []transport.Reply
	for _, req := range reqs {
		for _, r := range wc.handleRequest(req) {
			r.BrokerEnv = msg.BrokerEnv
			r.ClientEnv = msg.ClientEnv
			replies = append(replies, r)
		}
	}
	// End-of-burst: exactly one empty-payload reply terminates every
	// successfully handled message.
	replies = append(replies, transport.Reply{BrokerEnv: msg.BrokerEnv, ClientEnv: msg.ClientEnv, Payload: nil})

	if wc.Telemetry != nil {
		wc.Telemetry <- telemetry.Duration(time.Since(start).Seconds())
	}
	return replies
}

// RunReader runs the blocking reader-worker loop until ctx is cancelled or
// inbound is closed.
func RunReader(ctx context.Context, wc *WorkerContext, inbound <-chan transport.InboundMessage, outbound chan<- transport.Reply) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			for _, rep := range wc.HandleInbound(msg) {
				select {
				case outbound <- rep:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// HandleContentsInbound implements the contents worker's per-message logic
// (steps 2-4 of the contents worker): acquire the directory, resolve
// sources, and encode the reply payload.
func (wc *WorkerContext) HandleContentsInbound(msg transport.ContentsInbound) transport.ContentsReply {
	origin := point.Origin(msg.Origin)
	sources, err := wc.Directory.Refresh(origin)
	if err != nil {
		if wc.Logger != nil {
			wc.Logger.Warn("workers: contents refresh failed", log.KVErr(err), log.KV("origin", origin))
		}
		return transport.ContentsReply{BrokerEnv: msg.BrokerEnv, ClientEnv: msg.ClientEnv, Payload: nil}
	}
	payload := wire.EncodeSourceList(sources)
	return transport.ContentsReply{BrokerEnv: msg.BrokerEnv, ClientEnv: msg.ClientEnv, Payload: payload}
}

// RunContents runs the single long-running contents-worker loop until ctx
// is cancelled or in is closed. It is single-threaded by construction: one
// goroutine, one Directory, serialized naturally by the loop itself.
func RunContents(ctx context.Context, wc *WorkerContext, in <-chan transport.ContentsInbound, out chan<- transport.ContentsReply) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			rep := wc.HandleContentsInbound(msg)
			select {
			case out <- rep:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
