// Package relay is the incremental sync core: it decides which messages of
// each group topic to fetch, forwards the new ones and advances the
// per-source watermark.
package relay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/notify"
	"github.com/ppiankov/topicrelay/internal/state"
	"github.com/ppiankov/topicrelay/internal/telemetry"
)

// Message is one topic message as returned by a Fetcher.
type Message struct {
	ID       int
	Date     time.Time
	SenderID int64
	Text     string
}

// Batch is the result of one fetch. Title is the topic's display title.
type Batch struct {
	Title    string
	Messages []Message
}

// FetchRequest names one topic and the window to fetch from it.
type FetchRequest struct {
	Group   string
	TopicID int
	Window  Window
}

// Fetcher returns the messages of one topic inside a window. The order of
// the returned messages is not trusted.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Batch, error)
}

// FetchError is a failed fetch for one source.
type FetchError struct {
	Key state.Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError is a message the notifier did not accept.
type DeliveryError struct {
	Key       state.Key
	MessageID int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s message %d: %v", e.Key, e.MessageID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Status is the outcome kind of one source's pass.
type Status int

const (
	// StatusSynced: a non-empty batch was processed and the watermark saved.
	StatusSynced Status = iota + 1
	// StatusUpToDate: the fetch returned nothing; state untouched.
	StatusUpToDate
	// StatusSkipped: the source type is not supported.
	StatusSkipped
	// StatusFetchFailed: the fetch failed; state untouched.
	StatusFetchFailed
	// StatusPersistFailed: the batch was processed but the watermark could
	// not be saved.
	StatusPersistFailed
	// StatusInterrupted: the run was cancelled mid-batch; state untouched.
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusUpToDate:
		return "up-to-date"
	case StatusSkipped:
		return "skipped"
	case StatusFetchFailed:
		return "fetch-failed"
	case StatusPersistFailed:
		return "persist-failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of one source's pass.
type Result struct {
	Index  int
	Key    state.Key
	Status Status
	Title  string
	Window Window

	Fetched      int
	Delivered    int
	SkippedEmpty int
	// OutOfWindow counts fetched messages at or below the resume id, or
	// older than the date anchor. They are neither delivered nor counted
	// toward the watermark.
	OutOfWindow int

	DeliveryErrors []*DeliveryError

	PrevWatermark int
	Watermark     int

	// SkippedType is set for StatusSkipped.
	SkippedType string
	Err         error
}

// Report collects the results of one run, in config order.
type Report struct {
	RunID   string
	Started time.Time
	Results []Result
}

// Count returns how many results have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Delivered returns the number of messages delivered across all sources.
func (r Report) Delivered() int {
	n := 0
	for _, res := range r.Results {
		n += res.Delivered
	}
	return n
}

// Options configures an Engine. Fetcher and Store are required.
type Options struct {
	Fetcher Fetcher
	// Notifier is optional; without it messages are only tracked.
	Notifier notify.Notifier
	Store    state.Store
	Limits   Limits
	// Redact rewrites message text before delivery.
	Redact  func(string) string
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Engine runs sync passes over planned sources.
type Engine struct {
	fetcher  Fetcher
	notifier notify.Notifier
	store    state.Store
	limits   Limits
	redact   func(string) string
	log      *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewEngine validates opts and fills in defaults for the optional fields.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("relay: fetcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("relay: state store is required")
	}

	e := &Engine{
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		store:    opts.Store,
		limits:   opts.Limits,
		redact:   opts.Redact,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if e.limits.Backfill <= 0 {
		e.limits.Backfill = config.DefaultBackfillLimit
	}
	if e.limits.Resume <= 0 {
		e.limits.Resume = config.DefaultResumeLimit
	}
	if e.redact == nil {
		e.redact = func(s string) string { return s }
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Run syncs every planned source in order. State is loaded once; a load
// failure is the only error returned besides cancellation. Per-source
// failures are reported in the Report and never stop the run.
func (e *Engine) Run(ctx context.Context, plan Plan, ov Overrides) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Started: e.now(),
	}
	log := e.log.With(zap.String("run_id", report.RunID))

	marks, err := e.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load state: %w", err)
	}
	if marks == nil {
		marks = make(state.Watermarks)
	}

	for _, sk := range plan.Skipped {
		log.Warn("skipping source with unsupported type",
			zap.Int("index", sk.Index),
			zap.String("type", sk.Type))
		report.Results = append(report.Results, Result{
			Index:       sk.Index,
			Status:      StatusSkipped,
			SkippedType: sk.Type,
		})
	}

	var runErr error
	for _, src := range plan.Sources {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res := e.syncSource(ctx, log, src, marks, ov)
		report.Results = append(report.Results, res)
		if res.Status == StatusInterrupted {
			runErr = res.Err
			break
		}
	}

	slices.SortStableFunc(report.Results, func(a, b Result) int {
		return cmp.Compare(a.Index, b.Index)
	})
	return report, runErr
}

func (e *Engine) syncSource(ctx context.Context, log *zap.Logger, src Source, marks state.Watermarks, ov Overrides) Result {
	key := src.Key
	log = log.With(zap.Stringer("source", key))

	prev, _ := marks.Get(key)
	win := ComputeWindow(ov, prev, e.limits, e.now())
	res := Result{
		Index:         src.Index,
		Key:           key,
		Window:        win,
		PrevWatermark: prev,
		Watermark:     prev,
	}

	log.Debug("fetching",
		zap.Int("offset_id", win.OffsetID),
		zap.Time("offset_date", win.OffsetDate),
		zap.Int("limit", win.Limit),
		zap.Bool("reverse", win.Reverse))

	batch, err := e.fetcher.Fetch(ctx, FetchRequest{Group: key.Group, TopicID: key.TopicID, Window: win})
	if err != nil {
		if ctx.Err() != nil {
			res.Status = StatusInterrupted
			res.Err = ctx.Err()
			return res
		}
		e.metrics.FetchFailed(key.String())
		log.Error("fetch failed", zap.Error(err))
		res.Status = StatusFetchFailed
		res.Err = &FetchError{Key: key, Err: err}
		return res
	}

	res.Title = batch.Title
	res.Fetched = len(batch.Messages)
	e.metrics.Fetched(key.String(), res.Fetched)

	msgs := inWindow(batch.Messages, win)
	if n := len(batch.Messages) - len(msgs); n > 0 {
		res.OutOfWindow = n
		log.Debug("dropped messages outside the window", zap.Int("count", n))
	}
	if len(msgs) == 0 {
		res.Status = StatusUpToDate
		log.Debug("no new messages")
		return res
	}

	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			res.Status = StatusInterrupted
			res.Err = err
			return res
		}

		log.Debug("message",
			zap.Int("id", m.ID),
			zap.Int64("sender", m.SenderID),
			zap.String("text", m.Text))

		if m.Text == "" {
			res.SkippedEmpty++
			continue
		}
		if e.notifier == nil {
			continue
		}

		err := e.notifier.Deliver(ctx, notify.Delivery{
			Key:       key,
			Title:     batch.Title,
			MessageID: m.ID,
			Date:      m.Date,
			Text:      e.redact(m.Text),
		})
		if err != nil {
			de := &DeliveryError{Key: key, MessageID: m.ID, Err: err}
			res.DeliveryErrors = append(res.DeliveryErrors, de)
			e.metrics.DeliveryFailed(key.String())
			log.Warn("delivery failed", zap.Int("message_id", m.ID), zap.Error(err))
			continue
		}
		res.Delivered++
		e.metrics.Delivered(key.String())
	}

	next := max(prev, msgs[len(msgs)-1].ID)
	marks[key] = next
	res.Watermark = next

	if err := e.store.Save(ctx, marks); err != nil {
		log.Error("saving watermark failed", zap.Int("watermark", next), zap.Error(err))
		res.Status = StatusPersistFailed
		res.Err = err
		return res
	}

	e.metrics.Watermark(key.String(), next)
	res.Status = StatusSynced
	log.Info("synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", len(res.DeliveryErrors)),
		zap.Int("watermark", next))
	return res
}

// inWindow returns the messages newer than w.OffsetID, or dated at or after
// w.OffsetDate for a date-anchored window.
func inWindow(msgs []Message, w Window) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if w.OffsetID > 0 && m.ID <= w.OffsetID {
			continue
		}
		if w.DateAnchored() && m.Date.Before(w.OffsetDate) {
			continue
		}
		out = append(out, m)
	}
	return out
}
