package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/scanner"
)

// Upload timeouts for the capture service. Batched transmission gets the
// longer bound.
const (
	uploadTimeout      = 30 * time.Second
	batchUploadTimeout = 60 * time.Second
)

// uploadResult is one per-item entry in a capture service response.
type uploadResult struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// uploadResponse is the capture service response envelope.
type uploadResponse struct {
	Success bool           `json:"success"`
	Uploads []uploadResult `json:"uploads"`
}

// CaptureArchiver pushes image bytes to an external capture service through
// an authenticated multipart upload API.
type CaptureArchiver struct {
	serverURL string
	apiKey    string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewCaptureArchiver creates an archiver backed by the capture service at serverURL.
func NewCaptureArchiver(serverURL, apiKey string, logger *zap.Logger) *CaptureArchiver {
	captureLogger := logger.Named("capture_archiver")

	// Circuit breaker for capture service calls
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "capture_service",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		Interval:    0,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			captureLogger.Warn("Capture service circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &CaptureArchiver{
		serverURL: serverURL,
		apiKey:    apiKey,
		client:    &http.Client{},
		breaker:   breaker,
		logger:    captureLogger,
	}
}

func (a *CaptureArchiver) Enabled() bool { return true }

// Archive downloads every image attachment in the window and transmits the
// batch to the capture service. Each attachment either yields an evidence
// item or is recorded as failed; archival always runs to completion.
func (a *CaptureArchiver) Archive(ctx context.Context, window scanner.Window) []scanner.EvidenceItem {
	var pending []pendingImage

	for _, msg := range window.Messages {
		for _, attachment := range msg.ImageAttachments() {
			data, err := downloadAttachment(ctx, a.client, attachment.URL)
			if err != nil {
				a.logger.Warn("Failed to download attachment",
					zap.Error(err),
					zap.String("filename", attachment.Filename),
					zap.Uint64("message_id", uint64(msg.ID)))

				continue
			}

			pending = append(pending, pendingImage{
				sourceMessageID:  msg.ID,
				originalFilename: attachment.Filename,
				data:             data,
			})
		}
	}

	if len(pending) == 0 {
		return nil
	}

	resp, err := a.upload(ctx, pending)
	if err != nil {
		a.logger.Error("Failed to upload evidence batch",
			zap.Error(err),
			zap.Int("count", len(pending)))

		return nil
	}

	var items []scanner.EvidenceItem

	for i, result := range resp.Uploads {
		if i >= len(pending) {
			break
		}

		if !result.Success {
			a.logger.Warn("Capture service rejected an upload",
				zap.String("filename", pending[i].originalFilename),
				zap.String("error", result.Error))

			continue
		}

		items = append(items, scanner.EvidenceItem{
			SourceMessageID:  pending[i].sourceMessageID,
			OriginalFilename: pending[i].originalFilename,
			ArchivedURL:      result.URL,
			Backend:          scanner.BackendCaptureService,
		})
	}

	return items
}

// upload transmits the pending images, using the single-item endpoint for one
// image and the batch endpoint otherwise.
func (a *CaptureArchiver) upload(ctx context.Context, pending []pendingImage) (*uploadResponse, error) {
	endpoint := a.serverURL + "/upload/batch"
	field := "images"
	timeout := batchUploadTimeout

	if len(pending) == 1 {
		endpoint = a.serverURL + "/upload"
		field = "image"
		timeout = uploadTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	for _, img := range pending {
		part, err := writer.CreateFormFile(field, img.originalFilename)
		if err != nil {
			return nil, fmt.Errorf("error creating form file: %w", err)
		}

		if _, err := part.Write(img.data); err != nil {
			return nil, fmt.Errorf("error writing form file: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("error closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", a.apiKey)

	// Execute through the circuit breaker so a failing capture service
	// stops receiving traffic instead of stalling every episode.
	result, err := a.breaker.Execute(func() (any, error) {
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("error executing request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading response: %w", err)
		}

		var parsed uploadResponse
		if err := sonic.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("error unmarshaling response: %w", err)
		}

		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*uploadResponse), nil
}
