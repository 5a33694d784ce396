package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// pageQuality is the JPEG quality pages are produced at before post-processing
const pageQuality = 100

// pdfToPages renders every page of a PDF as a JPEG page, stopping at limit
func pdfToPages(pdfData []byte, limit int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if limit > 0 && count > limit {
		count = limit
	}

	pages := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i, err)
		}
		data, err := encodeJPEG(img)
		if err != nil {
			return nil, err
		}
		pages = append(pages, data)
	}

	return pages, nil
}

// DecodeImage decodes JPEG, PNG, GIF and HEIC/HEIF image data
func DecodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Go's standard image package doesn't support HEIC
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: pageQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 followed by a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func isJPEGFormat(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// normalizeMimeType lowercases the content type and falls back to sniffing the data
func normalizeMimeType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch {
	case isPDFFormat(data):
		return "application/pdf"
	case isHEICFormat(data):
		return "image/heic"
	case isJPEGFormat(data):
		return "image/jpeg"
	default:
		return "image/jpeg" // default
	}
}

// capturePages turns one uploaded capture into JPEG pages. PDFs yield one page
// per PDF page; everything else yields a single page. JPEG captures are kept
// byte for byte.
func capturePages(data []byte, contentType string, limit int) ([][]byte, error) {
	mimeType := normalizeMimeType(contentType, data)

	if mimeType == "application/pdf" {
		pages, err := pdfToPages(data, limit)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to pages: %w", err)
		}
		return pages, nil
	}

	if mimeType == "image/jpeg" && isJPEGFormat(data) {
		return [][]byte{data}, nil
	}

	img, err := DecodeImage(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("converting image to JPEG: %w", err)
	}
	page, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return [][]byte{page}, nil
}

// grayscale applies the document filter used by the base_with_filter mode
func grayscale(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// cropToBounds crops img to a region given in 0-1000 normalized coordinates.
// Degenerate regions leave the image unchanged.
func cropToBounds(img image.Image, b Bounds) image.Image {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()

	rect := image.Rect(
		src.Min.X+clampCoord(b.XMin)*w/1000,
		src.Min.Y+clampCoord(b.YMin)*h/1000,
		src.Min.X+clampCoord(b.XMax)*w/1000,
		src.Min.Y+clampCoord(b.YMax)*h/1000,
	).Intersect(src)
	if rect.Empty() {
		return img
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

func clampCoord(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
