package session

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/zombor/docscan/internal/imaging"
	"github.com/zombor/docscan/internal/scanning"
)

const (
	defaultQuality    = 100
	defaultBrightness = 0.0
	defaultContrast   = 1.0

	minQuality    = 0
	maxQuality    = 100
	minPageLimit  = 1
	minBrightness = -255.0
	maxBrightness = 255.0
	minContrast   = 0.0
	maxContrast   = 10.0
)

// Request is a caller's scan request. Every field is optional; missing or
// out-of-range values are replaced by their defaults or clamped, and
// unrecognized enum strings silently fall back to the default.
type Request struct {
	ResponseType        *string  `json:"responseType,omitempty"`
	CroppedImageQuality *int     `json:"croppedImageQuality,omitempty"`
	MaxNumDocuments     *int     `json:"maxNumDocuments,omitempty"`
	Brightness          *float64 `json:"brightness,omitempty"`
	Contrast            *float64 `json:"contrast,omitempty"`
	ScannerMode         *string  `json:"scannerMode,omitempty"`
	LetUserAdjustCrop   *bool    `json:"letUserAdjustCrop,omitempty"`
}

// Settings is a normalized Request
type Settings struct {
	ResponseFormat      imaging.Format
	Quality             int
	PageLimit           int
	Brightness          float64
	Contrast            float64
	RequestedMode       scanning.Mode
	AllowCropAdjustment bool
	// Mode is the mode the scan actually runs in
	Mode scanning.Mode
}

// UnmarshalJSON decodes each field on its own. A field of the wrong type is
// treated as missing so it falls back to its default.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Request{
		ResponseType:        decodeField[string](fields, "responseType"),
		CroppedImageQuality: decodeField[int](fields, "croppedImageQuality"),
		MaxNumDocuments:     decodeField[int](fields, "maxNumDocuments"),
		Brightness:          decodeField[float64](fields, "brightness"),
		Contrast:            decodeField[float64](fields, "contrast"),
		ScannerMode:         decodeField[string](fields, "scannerMode"),
		LetUserAdjustCrop:   decodeField[bool](fields, "letUserAdjustCrop"),
	}
	return nil
}

func decodeField[T any](fields map[string]json.RawMessage, name string) *T {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// Normalize resolves every request field to a valid value
func (r Request) Normalize() Settings {
	s := Settings{
		ResponseFormat: normalizeResponseFormat(r.ResponseType),
		Quality:        clampInt(r.CroppedImageQuality, defaultQuality, minQuality, maxQuality),
		PageLimit:      clampInt(r.MaxNumDocuments, scanning.MaxPageLimit, minPageLimit, scanning.MaxPageLimit),
		Brightness:     clampFloat(r.Brightness, defaultBrightness, minBrightness, maxBrightness),
		Contrast:       clampFloat(r.Contrast, defaultContrast, minContrast, maxContrast),
		RequestedMode:  normalizeMode(r.ScannerMode),
	}

	// Crop adjustment defaults on only for full mode so an explicit mode wins
	s.AllowCropAdjustment = s.RequestedMode == scanning.ModeFull
	if r.LetUserAdjustCrop != nil {
		s.AllowCropAdjustment = *r.LetUserAdjustCrop
	}

	// Crop adjustment is only available in full mode
	s.Mode = s.RequestedMode
	if s.AllowCropAdjustment {
		s.Mode = scanning.ModeFull
	}

	return s
}

// Params returns the post-processing parameters of the settings
func (s Settings) Params() imaging.Params {
	return imaging.Params{
		Quality:    s.Quality,
		Brightness: s.Brightness,
		Contrast:   s.Contrast,
		Format:     s.ResponseFormat,
	}
}

// Options returns the options a scan for these settings is started with
func (s Settings) Options(sessionID string) scanning.Options {
	return scanning.Options{
		SessionID:    sessionID,
		PageLimit:    s.PageLimit,
		Mode:         s.Mode,
		ResultFormat: scanning.ResultFormatJPEG,
	}
}

func normalizeResponseFormat(value *string) imaging.Format {
	if value == nil {
		return imaging.FormatFilePath
	}
	if strings.ToLower(strings.TrimSpace(*value)) == string(imaging.FormatBase64) {
		return imaging.FormatBase64
	}
	return imaging.FormatFilePath
}

func normalizeMode(value *string) scanning.Mode {
	if value == nil {
		return scanning.ModeFull
	}
	switch mode := scanning.Mode(strings.ToLower(strings.TrimSpace(*value))); mode {
	case scanning.ModeBase, scanning.ModeBaseWithFilter, scanning.ModeFull:
		return mode
	default:
		return scanning.ModeFull
	}
}

func clampInt(value *int, def, lo, hi int) int {
	v := def
	if value != nil {
		v = *value
	}
	return max(lo, min(hi, v))
}

func clampFloat(value *float64, def, lo, hi float64) float64 {
	v := def
	if value != nil && !math.IsNaN(*value) {
		v = *value
	}
	return math.Max(lo, math.Min(hi, v))
}
