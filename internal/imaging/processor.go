package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"io"

	"github.com/zombor/docscan/internal/scanning"
)

// Format selects how processed images are returned
type Format string

const (
	FormatBase64   Format = "base64"
	FormatFilePath Format = "imageFilePath"
)

var (
	ErrRead   = errors.New("unable to read scanned image")
	ErrDecode = errors.New("unable to decode scanned image")
	ErrEncode = errors.New("unable to compress scanned image")
	ErrWrite  = errors.New("unable to save scanned image")
)

// Params are the post-processing settings of one scan session
type Params struct {
	Quality    int
	Brightness float64
	Contrast   float64
	Format     Format
}

// PassThrough reports whether the page bytes can be returned without re-encoding
func (p Params) PassThrough() bool {
	return !NeedsAdjustment(p.Brightness, p.Contrast) && p.Quality == 100
}

// Processor decodes, adjusts and re-encodes scanned pages
type Processor struct {
	storage Storage
	clock   scanning.TimeSource
}

// NewProcessor creates a Processor writing file output to storage
func NewProcessor(storage Storage) *Processor {
	return NewProcessorWithDeps(storage, scanning.SystemClock{})
}

// NewProcessorWithDeps creates a Processor with a custom time source for testing
func NewProcessorWithDeps(storage Storage, clock scanning.TimeSource) *Processor {
	return &Processor{
		storage: storage,
		clock:   clock,
	}
}

// Process turns one page into an image reference: Base64 text or the
// absolute path of the written file
func (p *Processor) Process(page scanning.Page, index int, params Params) (string, error) {
	data, err := readPage(page)
	if err != nil {
		return "", err
	}

	if !params.PassThrough() {
		data, err = reencode(data, params)
		if err != nil {
			return "", err
		}
	}

	if params.Format == FormatBase64 {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	if p.storage == nil {
		return "", fmt.Errorf("%w: no storage configured", ErrWrite)
	}
	filename := fmt.Sprintf("DOCUMENT_SCAN_%d_%d.jpg", index, p.clock.Now().UnixMilli())
	path, err := p.storage.Save(filename, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return path, nil
}

func readPage(page scanning.Page) ([]byte, error) {
	if page == nil {
		return nil, fmt.Errorf("%w: missing page", ErrRead)
	}
	rc, err := page.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if rc == nil {
		return nil, fmt.Errorf("%w: unable to open image stream", ErrRead)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return data, nil
}

func reencode(data []byte, params Params) ([]byte, error) {
	img, err := scanning.DecodeImage(data, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if NeedsAdjustment(params.Brightness, params.Contrast) {
		img = AdjustImage(img, params.Brightness, params.Contrast)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: params.Quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
