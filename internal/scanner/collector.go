package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
)

// historyFetchLimit caps a single history page fetch.
const historyFetchLimit = 50

// Default window bounds for behavioral context collection.
const (
	DefaultWindowMessages = 10
	DefaultWindowLookback = 5 * time.Minute
)

// WindowOptions bounds the context collection for one episode.
type WindowOptions struct {
	// MaxMessages is the maximum number of author messages kept in the window.
	MaxMessages int
	// Lookback restricts the window to messages created within this duration of now.
	Lookback time.Duration
}

// Window is the author's recent activity around a triggering message.
// Messages are ordered chronologically and always include the triggering message.
type Window struct {
	Messages          []Message
	EmptyMessageCount int
	TotalImageCount   int
}

// IsLikelyCoordinatedBurst flags the empty-text, image-carrying posting pattern.
// It only annotates the audit record and never alters the action decision.
func (w Window) IsLikelyCoordinatedBurst() bool {
	return w.EmptyMessageCount > 0 && w.TotalImageCount > 0
}

// EmptyRatio returns the share of window messages that carry no text.
func (w Window) EmptyRatio() float64 {
	if len(w.Messages) == 0 {
		return 0
	}

	return float64(w.EmptyMessageCount) / float64(len(w.Messages))
}

// HistoryFetcher is the slice of the Discord REST API the collector needs.
// disgo's rest client satisfies it.
type HistoryFetcher interface {
	GetMessages(
		channelID snowflake.ID, around snowflake.ID, before snowflake.ID, after snowflake.ID,
		limit int, opts ...rest.RequestOpt,
	) ([]discord.Message, error)
}

// Collector builds bounded recent-history windows for triggering authors.
type Collector struct {
	rest   HistoryFetcher
	logger *zap.Logger
}

// NewCollector creates a context collector backed by the given REST client.
func NewCollector(restClient HistoryFetcher, logger *zap.Logger) *Collector {
	return &Collector{
		rest:   restClient,
		logger: logger.Named("collector"),
	}
}

// Collect fetches a bounded page of recent channel messages and reduces it to
// the triggering author's activity window. A failed fetch degrades to a window
// holding only the triggering message; it never propagates the failure.
func (c *Collector) Collect(ctx context.Context, msg Message, opts WindowOptions) Window {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultWindowMessages
	}

	if opts.Lookback <= 0 {
		opts.Lookback = DefaultWindowLookback
	}

	fetched, err := c.rest.GetMessages(msg.ChannelID, 0, 0, 0, historyFetchLimit, rest.WithCtx(ctx))
	if err != nil {
		c.logger.Warn("Failed to fetch channel history, using single-message window",
			zap.Error(err),
			zap.Uint64("channel_id", uint64(msg.ChannelID)))

		return buildWindow([]Message{msg})
	}

	cutoff := time.Now().Add(-opts.Lookback)
	messages := make([]Message, 0, opts.MaxMessages)

	for _, m := range fetched {
		if m.Author.ID != msg.AuthorID {
			continue
		}

		converted := FromDiscordMessage(m)
		if converted.CreatedAt.Before(cutoff) {
			continue
		}

		messages = append(messages, converted)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if len(messages) > opts.MaxMessages {
		messages = messages[:opts.MaxMessages]
	}

	// The triggering message anchors the window; evidence archival depends on it.
	if !containsMessage(messages, msg.ID) {
		messages = append(messages, msg)
	}

	return buildWindow(messages)
}

func buildWindow(messages []Message) Window {
	w := Window{Messages: messages}

	for _, m := range messages {
		if m.IsEmpty() {
			w.EmptyMessageCount++
		}

		w.TotalImageCount += len(m.Attachments)
	}

	return w
}

func containsMessage(messages []Message, id snowflake.ID) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}

	return false
}
