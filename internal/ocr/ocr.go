// Package ocr is an optional consumer that extracts text from image
// attachments via the Google Vision API and posts it back to the channel.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aichan/internal/bus"
	"github.com/nextlevelbuilder/aichan/internal/config"
	"github.com/nextlevelbuilder/aichan/internal/pipeline"
)

const defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// Service watches the event stream for messages with image attachments and
// replies with any text the Vision API finds in them.
type Service struct {
	cfg       config.OCRConfig
	messenger pipeline.Messenger
	client    *http.Client
	endpoint  string
}

func New(cfg config.OCRConfig, messenger pipeline.Messenger) *Service {
	return &Service{
		cfg:       cfg,
		messenger: messenger,
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoint:  defaultEndpoint,
	}
}

// Run consumes the subscription until the stream closes or ctx is cancelled.
// Per-message failures are logged and the loop continues.
func (s *Service) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			m := ev.Message
			if m == nil || m.Author == nil {
				continue
			}
			s.handle(ctx, m)
		}
	}
}

func (s *Service) handle(ctx context.Context, m *discordgo.MessageCreate) {
	uris := imageURIs(m.Attachments)
	if len(uris) == 0 {
		return
	}

	text, err := s.annotate(ctx, uris)
	if err != nil {
		slog.Error("ocr annotate failed", "message_id", m.ID, "error", err)
		return
	}
	if text == "" {
		return
	}

	if _, err := s.messenger.CreateMessage(ctx, m.ChannelID, text); err != nil {
		slog.Warn("failed to post ocr result", "message_id", m.ID, "error", err)
	}
}

// imageURIs returns the proxy URLs of image attachments.
func imageURIs(attachments []*discordgo.MessageAttachment) []string {
	var uris []string
	for _, att := range attachments {
		if !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		uris = append(uris, att.ProxyURL)
	}
	return uris
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageSource `json:"image"`
	Features []feature   `json:"features"`
}

type imageSource struct {
	Source struct {
		ImageURI string `json:"imageUri"`
	} `json:"source"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
	} `json:"responses"`
}

// annotate runs TEXT_DETECTION over the given image URIs and joins the
// per-image results with blank lines.
func (s *Service) annotate(ctx context.Context, uris []string) (string, error) {
	var payload annotateRequest
	for _, uri := range uris {
		var img imageSource
		img.Source.ImageURI = uri
		payload.Requests = append(payload.Requests, imageRequest{
			Image:    img,
			Features: []feature{{Type: "TEXT_DETECTION"}},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal annotate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("x-goog-user-project", s.cfg.GoogleProjectID)
	req.Header.Set("Authorization", "Bearer "+s.cfg.GoogleAPIToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("annotate request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read annotate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("annotate request: status %d: %s", resp.StatusCode, raw)
	}

	var parsed annotateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode annotate response: %w", err)
	}

	var texts []string
	for _, r := range parsed.Responses {
		if len(r.TextAnnotations) == 0 {
			continue
		}
		// The first annotation is the full extracted text; the rest are
		// per-word boxes.
		if d := r.TextAnnotations[0].Description; d != "" {
			texts = append(texts, d)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}
