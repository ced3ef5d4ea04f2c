package relay

import "time"

// Limits caps how many messages a single pass requests when the caller does
// not pass an explicit limit.
type Limits struct {
	// Backfill applies to the date-anchored first run of a source.
	Backfill int
	// Resume applies when resuming from a message id.
	Resume int
}

// Overrides are caller-supplied window parameters. Zero means unset.
// A non-zero OffsetID replaces the persisted watermark for the pass.
type Overrides struct {
	OffsetID int
	Limit    int
}

// Window is the slice of a topic one pass asks the fetcher for.
type Window struct {
	// OffsetID is the resume point: only messages newer than it are wanted.
	OffsetID int
	// OffsetDate anchors a first run. Zero unless date-anchored.
	OffsetDate time.Time
	// Limit caps the number of messages. Zero means no cap.
	Limit int
	// Reverse requests oldest-to-newest traversal from the anchor.
	Reverse bool
}

// DateAnchored reports whether the window starts at OffsetDate.
func (w Window) DateAnchored() bool {
	return !w.OffsetDate.IsZero()
}

// ComputeWindow decides what to fetch for one source.
//
// An explicit offset wins over the watermark. Without either, and without an
// explicit limit, the window starts at today's UTC midnight and is capped at
// limits.Backfill. Resuming from an id without an explicit limit is capped at
// limits.Resume. Id-resumed and date-anchored windows run forward in time.
func ComputeWindow(ov Overrides, watermark int, limits Limits, now time.Time) Window {
	w := Window{OffsetID: ov.OffsetID, Limit: ov.Limit}

	if w.OffsetID == 0 && watermark > 0 {
		w.OffsetID = watermark
	}

	if w.OffsetID == 0 && w.Limit == 0 {
		w.OffsetDate = midnightUTC(now)
		w.Limit = limits.Backfill
	}

	if w.OffsetID > 0 || w.DateAnchored() {
		w.Reverse = true
	}

	if w.OffsetID > 0 && w.Limit == 0 {
		w.Limit = limits.Resume
	}

	return w
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
