package line

import (
	"bytes"

	"github.com/disintegration/imaging"
)

const (
	// maxUploadBytes is the largest photo forwarded to the analysis
	// workflow as-is; anything bigger is scaled down first.
	maxUploadBytes = 5 << 20

	maxEdge = 1024
)

// ShrinkOversized scales photos above the upload limit to fit within
// 1024x1024 and re-encodes them as JPEG. Data that does not decode as an
// image comes back unchanged.
func ShrinkOversized(data []byte) []byte {
	if len(data) <= maxUploadBytes {
		return data
	}
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	resized := imaging.Fit(src, maxEdge, maxEdge, imaging.Lanczos)
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data
	}
	return buf.Bytes()
}
