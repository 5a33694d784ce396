package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	ErrHandoffNotFound     = errors.New("handoff not found")
	ErrHandoffNotPresented = errors.New("handoff is not open for capture")
	ErrPageLimitReached    = errors.New("page limit reached")
	ErrEmptyCapture        = errors.New("capture is empty")
)

type capture struct {
	data        []byte
	contentType string
}

type handoff struct {
	Handoff
	deliver  func(Outcome)
	captures []capture
}

// Relay is a scanning service whose captures come from a separate device.
// BeginScan mints a handoff token, Present opens it for uploads, and the
// device finishes the scan with Complete, Cancel or Abort.
type Relay struct {
	mu sync.Mutex
	// Presented handoffs are held until the device finishes them; a scan has
	// no timeout, so an abandoned handoff keeps its captures in memory.
	handoffs map[string]*handoff
	detector Detector
	ids      IDGenerator
	clock    TimeSource
}

// NewRelay creates a Relay. detector may be nil, in which case full mode
// pages are delivered uncropped.
func NewRelay(detector Detector) *Relay {
	return NewRelayWithDeps(detector, UUIDGenerator{}, SystemClock{})
}

// NewRelayWithDeps creates a Relay with custom dependencies for testing
func NewRelayWithDeps(detector Detector, ids IDGenerator, clock TimeSource) *Relay {
	return &Relay{
		handoffs: make(map[string]*handoff),
		detector: detector,
		ids:      ids,
		clock:    clock,
	}
}

// BeginScan validates the options and mints a handoff
func (r *Relay) BeginScan(ctx context.Context, opts Options) (*Handoff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if opts.PageLimit < 1 || opts.PageLimit > MaxPageLimit {
		return nil, fmt.Errorf("page limit %d out of range 1-%d", opts.PageLimit, MaxPageLimit)
	}
	switch opts.Mode {
	case ModeBase, ModeBaseWithFilter, ModeFull:
	default:
		return nil, fmt.Errorf("unsupported scanner mode %q", opts.Mode)
	}
	if opts.ResultFormat != ResultFormatJPEG {
		return nil, fmt.Errorf("unsupported result format %q", opts.ResultFormat)
	}

	h := &handoff{
		Handoff: Handoff{
			Token:     r.ids.Generate(),
			SessionID: opts.SessionID,
			PageLimit: opts.PageLimit,
			Mode:      opts.Mode,
			CreatedAt: r.clock.Now(),
		},
	}

	r.mu.Lock()
	r.handoffs[h.Token] = h
	r.mu.Unlock()

	slog.Debug("Handoff created", "token", h.Token, "session_id", h.SessionID, "mode", h.Mode, "page_limit", h.PageLimit)

	handoff := h.Handoff
	return &handoff, nil
}

// Present opens a handoff for captures. deliver is called exactly once when
// the device completes, cancels or aborts the scan.
func (r *Relay) Present(ctx context.Context, hf *Handoff, deliver func(Outcome)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handoffs[hf.Token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandoffNotFound, hf.Token)
	}
	if h.deliver != nil {
		return fmt.Errorf("handoff %s already presented", hf.Token)
	}
	h.deliver = deliver
	return nil
}

// Discard drops a handoff that was never presented. Presented handoffs are
// left alone; they end through Complete, Cancel or Abort.
func (r *Relay) Discard(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handoffs[token]; ok && h.deliver == nil {
		delete(r.handoffs, token)
		slog.Debug("Handoff discarded", "token", token)
	}
}

// Lookup returns an open handoff and the number of captures received so far
func (r *Relay) Lookup(token string) (*Handoff, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handoffs[token]
	if !ok || h.deliver == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrHandoffNotFound, token)
	}
	handoff := h.Handoff
	return &handoff, len(h.captures), nil
}

// Open returns the handoffs currently waiting for captures, oldest first
func (r *Relay) Open() []Handoff {
	r.mu.Lock()
	defer r.mu.Unlock()

	open := make([]Handoff, 0, len(r.handoffs))
	for _, h := range r.handoffs {
		if h.deliver != nil {
			open = append(open, h.Handoff)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open
}

// AddCapture appends a captured image or PDF to the handoff and returns the
// number of captures held
func (r *Relay) AddCapture(token string, data []byte, contentType string) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyCapture
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handoffs[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrHandoffNotFound, token)
	}
	if h.deliver == nil {
		return 0, ErrHandoffNotPresented
	}
	if len(h.captures) >= h.PageLimit {
		return len(h.captures), ErrPageLimitReached
	}

	h.captures = append(h.captures, capture{
		data:        append([]byte(nil), data...),
		contentType: contentType,
	})
	return len(h.captures), nil
}

// Complete closes the handoff, turns its captures into pages and delivers
// them. Conversion failures are delivered as an error outcome and returned.
func (r *Relay) Complete(ctx context.Context, token string) error {
	h, err := r.take(token)
	if err != nil {
		return err
	}

	pages, err := r.buildPages(ctx, h)
	if err != nil {
		slog.Error("Failed to build scanned pages", "token", token, "error", err)
		h.deliver(Outcome{SessionID: h.SessionID, Err: err})
		return err
	}

	h.deliver(Outcome{SessionID: h.SessionID, Data: &ScanData{Pages: pages}})
	return nil
}

// Cancel closes the handoff and reports the scan as cancelled by the user
func (r *Relay) Cancel(token string) error {
	h, err := r.take(token)
	if err != nil {
		return err
	}
	h.deliver(Outcome{SessionID: h.SessionID, Cancelled: true})
	return nil
}

// Abort closes the handoff and reports a failure raised by the capture device
func (r *Relay) Abort(token string, reason string) error {
	h, err := r.take(token)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "capture device reported an error"
	}
	h.deliver(Outcome{SessionID: h.SessionID, Err: errors.New(reason)})
	return nil
}

func (r *Relay) take(token string) (*handoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handoffs[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandoffNotFound, token)
	}
	if h.deliver == nil {
		return nil, ErrHandoffNotPresented
	}
	delete(r.handoffs, token)
	return h, nil
}

func (r *Relay) buildPages(ctx context.Context, h *handoff) ([]Page, error) {
	pages := make([]Page, 0, len(h.captures))
	for i, c := range h.captures {
		remaining := h.PageLimit - len(pages)
		if remaining <= 0 {
			break
		}

		converted, err := capturePages(c.data, c.contentType, remaining)
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}

		for _, data := range converted {
			if len(pages) >= h.PageLimit {
				break
			}
			data, err = r.applyMode(ctx, h.Mode, data)
			if err != nil {
				return nil, fmt.Errorf("capture %d: %w", i, err)
			}
			pages = append(pages, BytesPage(data))
		}
	}
	return pages, nil
}

func (r *Relay) applyMode(ctx context.Context, mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case ModeBaseWithFilter:
		img, err := DecodeImage(data, "image/jpeg")
		if err != nil {
			return nil, err
		}
		return encodeJPEG(grayscale(img))
	case ModeFull:
		if r.detector == nil {
			return data, nil
		}
		bounds, err := r.detector.DetectDocument(ctx, data)
		if err != nil {
			// Keep the uncropped page when detection fails
			slog.Warn("Document detection failed", "error", err)
			return data, nil
		}
		if bounds == nil {
			return data, nil
		}
		img, err := DecodeImage(data, "image/jpeg")
		if err != nil {
			return nil, err
		}
		return encodeJPEG(cropToBounds(img, *bounds))
	default:
		return data, nil
	}
}
