// Package media fetches message attachments and prepares them for inline
// delivery to a vision model.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/aichan/internal/pipeline"
	"github.com/nextlevelbuilder/aichan/internal/providers"
)

// maxImageBytes is the safety limit for downloading attachments (10MB).
const maxImageBytes = 10 * 1024 * 1024

// Encoder downloads attachment images, downscales them to fit within a square
// bound, and re-encodes as JPEG. Downscaling keeps request payloads small;
// provider pricing and limits scale with image size.
type Encoder struct {
	client       *http.Client
	maxDimension int
}

func NewEncoder(maxDimension int) *Encoder {
	return &Encoder{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxDimension: maxDimension,
	}
}

// Encode implements pipeline.ImageEncoder.
func (e *Encoder) Encode(ctx context.Context, ref pipeline.ImageRef) (providers.ImageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return providers.ImageContent{}, fmt.Errorf("build attachment request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return providers.ImageContent{}, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.ImageContent{}, fmt.Errorf("fetch attachment: unexpected status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return providers.ImageContent{}, fmt.Errorf("decode attachment image: %w", err)
	}

	// Fit never upscales; small images pass through at their original size.
	img = imaging.Fit(img, e.maxDimension, e.maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return providers.ImageContent{}, fmt.Errorf("encode attachment image: %w", err)
	}

	return providers.ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
