package scanning

import (
	"bytes"
	"context"
	"io"
	"time"
)

// Mode is the capability tier requested from the scanning service
type Mode string

const (
	ModeBase           Mode = "base"
	ModeBaseWithFilter Mode = "base_with_filter"
	ModeFull           Mode = "full"
)

// ResultFormatJPEG is the only result format pages are produced in
const ResultFormatJPEG = "jpeg"

// MaxPageLimit is the largest number of pages a single scan may produce
const MaxPageLimit = 24

// Options are the resolved parameters a scan is started with
type Options struct {
	SessionID    string
	PageLimit    int
	Mode         Mode
	ResultFormat string
}

// Handoff is the token returned by a service once a scan has been started.
// The host environment presents it to the user and reports the outcome later.
type Handoff struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	PageLimit int       `json:"page_limit"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one scanned page, exposing its raw encoded image data
type Page interface {
	Open() (io.ReadCloser, error)
}

// BytesPage is a Page held in memory
type BytesPage []byte

// Open returns a reader over the page bytes
func (p BytesPage) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p)), nil
}

// ScanData is the payload of a completed scan
type ScanData struct {
	Pages []Page
}

// Outcome is what the host environment delivers when the scan UI finishes.
// Exactly one of Cancelled, Err or Data is meaningful; a nil Data with no
// error and no cancellation means the scanner returned nothing.
type Outcome struct {
	SessionID string
	Cancelled bool
	Err       error
	Data      *ScanData
}

// Service defines the document scanning capability
type Service interface {
	// BeginScan asks the service to start a scan and returns the handoff to present
	BeginScan(ctx context.Context, opts Options) (*Handoff, error)
}

// Bounds is a document region in coordinates normalized to 0-1000
type Bounds struct {
	YMin int `json:"ymin"`
	XMin int `json:"xmin"`
	YMax int `json:"ymax"`
	XMax int `json:"xmax"`
}

// Detector finds the document inside a captured photo
type Detector interface {
	// DetectDocument returns the document bounds, or nil when no document was found
	DetectDocument(ctx context.Context, imageData []byte) (*Bounds, error)
	// Close releases any resources held by the detector
	Close() error
}
