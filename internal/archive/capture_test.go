package archive_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/archive"
	"github.com/shieldguard/shield/internal/scanner"
)

const testAPIKey = "test-secret"

// newAttachmentServer serves fake image bytes; paths containing "fail"
// return 404.
func newAttachmentServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail.png" {
			http.NotFound(w, r)
			return
		}

		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(server.Close)

	return server
}

type captureRequest struct {
	path      string
	apiKey    string
	filenames []string
}

// newCaptureServer records upload requests and answers success for every
// file, except filenames listed in reject.
func newCaptureServer(t *testing.T, requests *[]captureRequest, reject map[string]bool) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))

		field := "images"
		if r.URL.Path == "/upload" {
			field = "image"
		}

		var (
			filenames []string
			uploads   []map[string]any
		)

		for i, header := range r.MultipartForm.File[field] {
			filenames = append(filenames, header.Filename)
			uploads = append(uploads, map[string]any{
				"success":  !reject[header.Filename],
				"url":      fmt.Sprintf("https://store.example.com/%d", i),
				"filename": header.Filename,
			})
		}

		*requests = append(*requests, captureRequest{
			path:      r.URL.Path,
			apiKey:    r.Header.Get("X-API-Key"),
			filenames: filenames,
		})

		body, err := sonic.Marshal(map[string]any{"success": true, "uploads": uploads})
		require.NoError(t, err)
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	return server
}

func evidenceWindow(attachmentServer *httptest.Server, filenames ...string) scanner.Window {
	msg := scanner.Message{
		ID:        snowflake.New(time.Now()),
		GuildID:   100,
		ChannelID: 200,
		AuthorID:  300,
	}

	for _, name := range filenames {
		msg.Attachments = append(msg.Attachments, scanner.Attachment{
			URL:      attachmentServer.URL + "/" + name,
			Filename: name,
		})
	}

	return scanner.Window{Messages: []scanner.Message{msg}}
}

func TestCaptureArchivePartialDownloadFailure(t *testing.T) {
	t.Parallel()

	attachments := newAttachmentServer(t)

	var requests []captureRequest

	capture := newCaptureServer(t, &requests, nil)

	archiver := archive.NewCaptureArchiver(capture.URL, testAPIKey, zap.NewNop())
	window := evidenceWindow(attachments, "one.png", "fail.png", "three.png")

	items := archiver.Archive(context.Background(), window)

	// The failed download is skipped; archival of the rest still completes.
	require.Len(t, items, 2)
	assert.Equal(t, "one.png", items[0].OriginalFilename)
	assert.Equal(t, "three.png", items[1].OriginalFilename)

	for _, item := range items {
		assert.Equal(t, scanner.BackendCaptureService, item.Backend)
		assert.NotEmpty(t, item.ArchivedURL)
		assert.Equal(t, window.Messages[0].ID, item.SourceMessageID)
	}

	require.Len(t, requests, 1)
	assert.Equal(t, "/upload/batch", requests[0].path)
	assert.Equal(t, testAPIKey, requests[0].apiKey)
	assert.Equal(t, []string{"one.png", "three.png"}, requests[0].filenames)
}

func TestCaptureArchiveSingleUsesUploadEndpoint(t *testing.T) {
	t.Parallel()

	attachments := newAttachmentServer(t)

	var requests []captureRequest

	capture := newCaptureServer(t, &requests, nil)

	archiver := archive.NewCaptureArchiver(capture.URL, testAPIKey, zap.NewNop())
	items := archiver.Archive(context.Background(), evidenceWindow(attachments, "only.png"))

	require.Len(t, items, 1)
	require.Len(t, requests, 1)
	assert.Equal(t, "/upload", requests[0].path)
}

func TestCaptureArchiveServerRejection(t *testing.T) {
	t.Parallel()

	attachments := newAttachmentServer(t)

	var requests []captureRequest

	capture := newCaptureServer(t, &requests, map[string]bool{"two.png": true})

	archiver := archive.NewCaptureArchiver(capture.URL, testAPIKey, zap.NewNop())
	items := archiver.Archive(context.Background(), evidenceWindow(attachments, "one.png", "two.png"))

	require.Len(t, items, 1)
	assert.Equal(t, "one.png", items[0].OriginalFilename)
}

func TestCaptureArchiveUploadFailure(t *testing.T) {
	t.Parallel()

	attachments := newAttachmentServer(t)

	capture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(capture.Close)

	archiver := archive.NewCaptureArchiver(capture.URL, testAPIKey, zap.NewNop())
	items := archiver.Archive(context.Background(), evidenceWindow(attachments, "one.png"))

	assert.Empty(t, items)
}

func TestCaptureArchiveSkipsNonImages(t *testing.T) {
	t.Parallel()

	attachments := newAttachmentServer(t)

	var requests []captureRequest

	capture := newCaptureServer(t, &requests, nil)

	archiver := archive.NewCaptureArchiver(capture.URL, testAPIKey, zap.NewNop())
	items := archiver.Archive(context.Background(), evidenceWindow(attachments, "notes.pdf"))

	assert.Empty(t, items)
	assert.Empty(t, requests)
}

func TestNopArchiver(t *testing.T) {
	t.Parallel()

	archiver := archive.NopArchiver{}
	assert.False(t, archiver.Enabled())
	assert.Empty(t, archiver.Archive(context.Background(), scanner.Window{}))
}
