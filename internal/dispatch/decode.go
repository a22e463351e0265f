package dispatch

import (
	"encoding/json"
	"mime"
	"strings"

	"github.com/tidwall/gjson"
)

// Decoded content labels recorded on responses
const (
	DecodedJSON = "json"
	DecodedText = "text"
	DecodedHTML = "html"
	DecodedXML  = "xml"
)

// decodeBody interprets a response body according to its Content-Type.
// Unknown or missing content types attempt JSON first and fall back to
// text. Decoding never fails; fellBack reports that the fallback path was
// taken so the caller can log it.
func decodeBody(contentType string, raw []byte) (val any, decodedAs string, fellBack bool) {
	if len(raw) == 0 {
		return nil, DecodedText, false
	}

	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case isJSONType(mediaType):
		if json.Valid(raw) {
			return gjson.ParseBytes(raw).Value(), DecodedJSON, false
		}
		return string(raw), DecodedText, true

	case strings.Contains(mediaType, "html"):
		return string(raw), DecodedHTML, false

	case strings.Contains(mediaType, "xml"):
		return string(raw), DecodedXML, false

	case strings.HasPrefix(mediaType, "text/"):
		return string(raw), DecodedText, false

	default:
		if json.Valid(raw) {
			return gjson.ParseBytes(raw).Value(), DecodedJSON, true
		}
		return string(raw), DecodedText, true
	}
}

func isJSONType(mediaType string) bool {
	return strings.Contains(mediaType, "json")
}
