package fase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var ErrMalformedHeadings = errors.New("malformed headings")

// LineBreak is the token editors type to split a heading over several lines.
const LineBreak = "/n"

type Heading struct {
	Heading string `json:"heading"`
	Image   string `json:"image,omitempty"`
}

// Headings maps fase keys to their text and media file.
type Headings map[Key]Heading

// ParseHeadings decodes the JSON stored on a session or motherfile record.
// An empty document is an empty map; anything else must be well formed.
func ParseHeadings(raw string) (Headings, error) {
	if strings.TrimSpace(raw) == "" {
		return Headings{}, nil
	}
	return DecodeHeadings([]byte(raw))
}

// DecodeHeadings is ParseHeadings for raw bytes.
func DecodeHeadings(b []byte) (Headings, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Headings{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var h Headings
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeadings, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedHeadings)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = Headings{}
	}
	return h, nil
}

// DecodeStored reads a headings field as found on a record. Sessions keep
// the document as a JSON-encoded string, newer records as a JSON object.
func DecodeStored(b []byte) (Headings, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHeadings, err)
		}
		return ParseHeadings(s)
	}
	return DecodeHeadings(b)
}

// Validate checks every key.
func (h Headings) Validate() error {
	for k := range h {
		if !k.Valid() {
			return fmt.Errorf("%w: bad key %q", ErrMalformedHeadings, k)
		}
	}
	return nil
}

// Encode renders the JSON string stored on records.
func (h Headings) Encode() string {
	if h == nil {
		return "{}"
	}
	b, _ := json.Marshal(h)
	return string(b)
}

func (h Headings) Clone() Headings {
	out := make(Headings, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Lines splits heading text on the LineBreak token.
func Lines(text string) []string {
	parts := strings.Split(text, LineBreak)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

var videoExt = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".m4v": true, ".webm": true}

// KindOf classifies a media file by extension.
func KindOf(filename string) MediaKind {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return MediaNone
	}
	if videoExt[strings.ToLower(path.Ext(filename))] {
		return MediaVideo
	}
	return MediaImage
}
