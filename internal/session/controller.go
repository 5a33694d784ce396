package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/history"
	"github.com/zombor/docscan/internal/imaging"
	"github.com/zombor/docscan/internal/metrics"
	"github.com/zombor/docscan/internal/scanning"
)

// State is the controller's position in the scan lifecycle
type State int

const (
	StateIdle State = iota
	StateStarting
	StateAwaitingResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitingResult:
		return "awaiting_result"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Host is the environment that presents a handoff to the user and reports
// the scan outcome through deliver once the user is done
type Host interface {
	Present(ctx context.Context, h *scanning.Handoff, deliver func(scanning.Outcome)) error
}

// PageProcessor post-processes one scanned page into an image reference
type PageProcessor interface {
	Process(page scanning.Page, index int, params imaging.Params) (string, error)
}

// discarder is implemented by services that can drop a handoff the host
// never presented
type discarder interface {
	Discard(token string)
}

// Recorder stores finished sessions
type Recorder interface {
	SaveSession(record *history.Record) error
}

type pendingScan struct {
	id        string
	token     string
	settings  Settings
	startedAt time.Time
	claimed   bool
	call      *Call
}

// Controller runs at most one scan session at a time
type Controller struct {
	mu      sync.Mutex
	state   State
	pending *pendingScan

	service   scanning.Service
	host      Host
	processor PageProcessor
	recorder  Recorder
	ids       scanning.IDGenerator
	clock     scanning.TimeSource
}

// NewController creates a Controller. recorder may be nil.
func NewController(service scanning.Service, host Host, processor PageProcessor, recorder Recorder) *Controller {
	return NewControllerWithDeps(service, host, processor, recorder, scanning.UUIDGenerator{}, scanning.SystemClock{})
}

// NewControllerWithDeps creates a Controller with custom dependencies for testing
func NewControllerWithDeps(service scanning.Service, host Host, processor PageProcessor, recorder Recorder, ids scanning.IDGenerator, clock scanning.TimeSource) *Controller {
	return &Controller{
		service:   service,
		host:      host,
		processor: processor,
		recorder:  recorder,
		ids:       ids,
		clock:     clock,
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the ID of the in-flight session, if any
func (c *Controller) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.id, true
}

// ScanDocument starts a scan and waits for its result. A failed session is
// returned as an error; success and cancellation as a Result.
func (c *Controller) ScanDocument(ctx context.Context, req Request) (Result, error) {
	call, err := c.StartScan(ctx, req)
	if err != nil {
		return Result{}, err
	}

	result, err := call.Wait(ctx)
	if err != nil {
		return Result{}, err
	}
	if result.Status == StatusFailed {
		return result, result.Err
	}
	return result, nil
}

// StartScan normalizes the request, starts the scan and presents the handoff.
// It returns once the host has the handoff; the result arrives on the Call.
func (c *Controller) StartScan(ctx context.Context, req Request) (*Call, error) {
	c.mu.Lock()
	if err := c.checkReady(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	settings := req.Normalize()
	p := &pendingScan{
		id:        c.ids.Generate(),
		settings:  settings,
		startedAt: c.clock.Now(),
	}
	p.call = newCall(p.id)
	c.pending = p
	c.state = StateStarting
	c.mu.Unlock()

	handoff, err := c.service.BeginScan(ctx, settings.Options(p.id))
	if err == nil && handoff == nil {
		err = fmt.Errorf("scanning service returned no handoff")
	}
	if err == nil {
		c.mu.Lock()
		p.token = handoff.Token
		c.state = StateAwaitingResult
		c.mu.Unlock()
		p.call.Handoff = handoff

		// The capture UI outlives the request that started it
		err = c.host.Present(context.WithoutCancel(ctx), handoff, c.OnExternalResult)
		if d, ok := c.service.(discarder); ok && err != nil {
			d.Discard(handoff.Token)
		}
	}
	if err != nil {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
			c.state = StateIdle
		}
		c.mu.Unlock()

		slog.Error("Failed to start document scanner", "session_id", p.id, "error", err)
		metrics.RecordScanRejected("start_failure")
		return nil, &StartError{Err: err}
	}

	slog.Info("Scan started",
		"session_id", p.id,
		"token", handoff.Token,
		"mode", settings.Mode,
		"page_limit", settings.PageLimit,
		"response_type", settings.ResponseFormat,
	)
	metrics.RecordScanStarted(string(settings.Mode))
	return p.call, nil
}

// checkReady must be called with c.mu held
func (c *Controller) checkReady() error {
	var err error
	switch {
	case c.service == nil:
		err = ErrNotReady
	case c.state != StateIdle || c.pending != nil:
		err = ErrAlreadyInProgress
	case c.host == nil:
		err = ErrEnvironmentUnavailable
	}
	if err != nil {
		slog.Warn("Scan request rejected", "error", err)
		metrics.RecordScanRejected(rejectReason(err))
	}
	return err
}

func rejectReason(err error) string {
	switch err {
	case ErrNotReady:
		return "not_ready"
	case ErrAlreadyInProgress:
		return "in_progress"
	case ErrEnvironmentUnavailable:
		return "environment_unavailable"
	default:
		return "other"
	}
}

// OnExternalResult receives the outcome of the capture UI. Outcomes with no
// matching session, or arriving after the session was already resolved, are
// ignored.
func (c *Controller) OnExternalResult(outcome scanning.Outcome) {
	c.mu.Lock()
	p := c.pending
	if p == nil || c.state != StateAwaitingResult || p.claimed ||
		(outcome.SessionID != "" && outcome.SessionID != p.id) {
		c.mu.Unlock()
		slog.Debug("Ignoring scan result", "session_id", outcome.SessionID, "error", ErrNoActiveSession)
		return
	}
	p.claimed = true
	c.mu.Unlock()

	c.finish(p, c.resolve(p, outcome))
}

func (c *Controller) resolve(p *pendingScan, outcome scanning.Outcome) Result {
	switch {
	case outcome.Cancelled:
		return cancelled()
	case outcome.Err != nil:
		return failure(outcome.Err)
	case outcome.Data == nil:
		return failure(ErrNoData)
	}

	pages := outcome.Data.Pages
	images := make([]string, 0, len(pages))
	params := p.settings.Params()
	for i, page := range pages {
		start := time.Now()
		image, err := c.processor.Process(page, i, params)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordPageProcessed(string(params.Format), status, time.Since(start).Seconds())
		if err != nil {
			slog.Error("Failed to process scanned page", "session_id", p.id, "page", i, "error", err)
			return failure(fmt.Errorf("failed to process scanned images: %w", err))
		}
		images = append(images, image)
	}
	return success(images)
}

func (c *Controller) finish(p *pendingScan, result Result) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
		c.state = StateIdle
	}
	c.mu.Unlock()

	attrs := []any{"session_id", p.id, "status", result.Status, "pages", len(result.Images)}
	if result.Err != nil {
		slog.Warn("Scan finished", append(attrs, "error", result.Err)...)
	} else {
		slog.Info("Scan finished", attrs...)
	}
	metrics.RecordScanFinished(string(result.Status))
	c.record(p, result)

	p.call.resolve(result)
}

func (c *Controller) record(p *pendingScan, result Result) {
	if c.recorder == nil {
		return
	}

	record := &history.Record{
		ID:             p.id,
		HandoffToken:   p.token,
		Status:         string(result.Status),
		Mode:           string(p.settings.Mode),
		ResponseFormat: string(p.settings.ResponseFormat),
		PageCount:      len(result.Images),
		StartedAt:      p.startedAt,
		FinishedAt:     c.clock.Now(),
	}
	if p.settings.ResponseFormat == imaging.FormatFilePath {
		record.Files = result.Images
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}

	if err := c.recorder.SaveSession(record); err != nil {
		slog.Warn("Failed to record scan session", "session_id", p.id, "error", err)
	}
}
