package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// documentDetectPrompt is the shared prompt used by all vision providers for locating documents
const documentDetectPrompt = `You are looking at a photo taken to scan a paper document (a page, receipt, letter, form or card).

Find the single most prominent document in the photo and return its bounding box.

Return ONLY valid JSON in this exact format:
{
  "found": true,
  "box_2d": [ymin, xmin, ymax, xmax]
}

Important:
- Coordinates are integers normalized to 0-1000 relative to the image height (y) and width (x)
- The box must tightly enclose the document edges, excluding background
- If there is no document in the photo, return {"found": false, "box_2d": null}
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

type detectResponse struct {
	Found bool  `json:"found"`
	Box   []int `json:"box_2d"`
}

// parseBoundsJSON parses the JSON response of a vision model into document bounds.
// A nil result with no error means no document was found.
func parseBoundsJSON(text string) (*Bounds, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp detectResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	if !resp.Found || resp.Box == nil {
		return nil, nil
	}
	if len(resp.Box) != 4 {
		return nil, fmt.Errorf("expected 4 box coordinates, got %d", len(resp.Box))
	}

	b := &Bounds{
		YMin: clampCoord(resp.Box[0]),
		XMin: clampCoord(resp.Box[1]),
		YMax: clampCoord(resp.Box[2]),
		XMax: clampCoord(resp.Box[3]),
	}

	// Some models swap the corners
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}

	if b.YMin == b.YMax || b.XMin == b.XMax {
		return nil, nil
	}

	return b, nil
}
