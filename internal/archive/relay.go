package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/scanner"
)

var ErrNoStoredAttachment = errors.New("storage message has no attachment")

// ChannelMessenger is the slice of the Discord REST API the relay backend
// needs. disgo's rest client satisfies it.
type ChannelMessenger interface {
	CreateMessage(
		channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt,
	) (*discord.Message, error)
}

// RelayArchiver re-posts image bytes to a dedicated storage channel on the
// platform itself, annotated with provenance metadata, and records the
// resulting hosted URL as the archived location.
type RelayArchiver struct {
	rest      ChannelMessenger
	channelID snowflake.ID
	client    *http.Client
	logger    *zap.Logger
}

// NewRelayArchiver creates an archiver that relays evidence into channelID.
func NewRelayArchiver(restClient ChannelMessenger, channelID snowflake.ID, logger *zap.Logger) *RelayArchiver {
	return &RelayArchiver{
		rest:      restClient,
		channelID: channelID,
		client:    &http.Client{},
		logger:    logger.Named("relay_archiver"),
	}
}

func (a *RelayArchiver) Enabled() bool { return true }

// Archive downloads and re-posts every image attachment in the window.
// Failures on one attachment never abort the remaining ones.
func (a *RelayArchiver) Archive(ctx context.Context, window scanner.Window) []scanner.EvidenceItem {
	var items []scanner.EvidenceItem

	for _, msg := range window.Messages {
		for _, attachment := range msg.ImageAttachments() {
			item, err := a.relayAttachment(ctx, msg, attachment)
			if err != nil {
				a.logger.Warn("Failed to relay attachment",
					zap.Error(err),
					zap.String("filename", attachment.Filename),
					zap.Uint64("message_id", uint64(msg.ID)))

				continue
			}

			items = append(items, *item)
		}
	}

	return items
}

func (a *RelayArchiver) relayAttachment(
	ctx context.Context, msg scanner.Message, attachment scanner.Attachment,
) (*scanner.EvidenceItem, error) {
	data, err := downloadAttachment(ctx, a.client, attachment.URL)
	if err != nil {
		return nil, err
	}

	// Stored under a generated name so internal filenames never leak into
	// the storage channel.
	storedName := fmt.Sprintf("evidence-%s%s", uuid.New().String(), filepath.Ext(attachment.Filename))

	content := fmt.Sprintf(
		"**Original Message:** %s\n**User:** %s (%s)\n**Server:** %s\n**Channel:** <#%s>\n**Date:** %s",
		msg.ID, msg.AuthorName, msg.AuthorID, msg.GuildID, msg.ChannelID,
		time.Now().UTC().Format(time.RFC3339),
	)

	posted, err := a.rest.CreateMessage(a.channelID, discord.MessageCreate{
		Content: content,
		Files: []*discord.File{
			discord.NewFile(storedName, "", bytes.NewReader(data)),
		},
	}, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("error posting to storage channel: %w", err)
	}

	if len(posted.Attachments) == 0 {
		return nil, ErrNoStoredAttachment
	}

	return &scanner.EvidenceItem{
		SourceMessageID:  msg.ID,
		OriginalFilename: attachment.Filename,
		ArchivedURL:      posted.Attachments[0].URL,
		Backend:          scanner.BackendRelayChannel,
	}, nil
}
