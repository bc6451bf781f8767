package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/aichan/internal/pipeline"
)

func servePNG(t *testing.T, width, height int) *httptest.Server {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeResult(t *testing.T, data string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("result is not valid base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("result is not valid jpeg: %v", err)
	}
	return img
}

func TestEncoder_DownscalesLargeImage(t *testing.T) {
	srv := servePNG(t, 1600, 800)
	enc := NewEncoder(768)

	got, err := enc.Encode(context.Background(), pipeline.ImageRef{URL: srv.URL, ContentType: "image/png"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if got.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", got.MimeType)
	}

	bounds := decodeResult(t, got.Data).Bounds()
	if bounds.Dx() > 768 || bounds.Dy() > 768 {
		t.Errorf("result is %dx%d, want both sides <= 768", bounds.Dx(), bounds.Dy())
	}
	// Aspect ratio preserved: 1600x800 fits to 768x384.
	if bounds.Dx() != 768 || bounds.Dy() != 384 {
		t.Errorf("result is %dx%d, want 768x384", bounds.Dx(), bounds.Dy())
	}
}

func TestEncoder_KeepsSmallImageSize(t *testing.T) {
	srv := servePNG(t, 100, 60)
	enc := NewEncoder(768)

	got, err := enc.Encode(context.Background(), pipeline.ImageRef{URL: srv.URL, ContentType: "image/png"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	bounds := decodeResult(t, got.Data).Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 60 {
		t.Errorf("result is %dx%d, want unchanged 100x60", bounds.Dx(), bounds.Dy())
	}
}

func TestEncoder_ErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	enc := NewEncoder(768)
	if _, err := enc.Encode(context.Background(), pipeline.ImageRef{URL: srv.URL}); err == nil {
		t.Fatal("Encode() succeeded on a 404 response")
	}
}

func TestEncoder_RejectsNonImageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not an image"))
	}))
	t.Cleanup(srv.Close)

	enc := NewEncoder(768)
	if _, err := enc.Encode(context.Background(), pipeline.ImageRef{URL: srv.URL}); err == nil {
		t.Fatal("Encode() succeeded on a non-image body")
	}
}
