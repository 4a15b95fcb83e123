// Package archive relocates image evidence to durable storage before the
// source message is destroyed. Backends are interchangeable behind the
// scanner.Archiver interface; per-attachment failures are swallowed and
// reduce the returned evidence set.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shieldguard/shield/internal/scanner"
)

var ErrUnexpectedStatusCode = errors.New("unexpected status code")

// downloadTimeout bounds a single attachment download.
const downloadTimeout = 10 * time.Second

// NopArchiver is the archiver used when no backend is configured.
// This is a normal, expected state and yields no evidence.
type NopArchiver struct{}

func (NopArchiver) Enabled() bool { return false }

func (NopArchiver) Archive(context.Context, scanner.Window) []scanner.EvidenceItem {
	return nil
}

// downloadAttachment fetches the image bytes from the source URL with a
// bounded timeout.
func downloadAttachment(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading attachment body: %w", err)
	}

	return data, nil
}

// pendingImage is a downloaded attachment waiting for backend transmission.
type pendingImage struct {
	sourceMessageID  snowflake.ID
	originalFilename string
	data             []byte
}
