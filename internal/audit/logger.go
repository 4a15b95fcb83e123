// Package audit renders one structured record per triggering or exempt
// episode and posts it to the guild's configured log channel.
package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/moderation"
	"github.com/shieldguard/shield/internal/scanner"
)

const (
	embedColor = 0xff9900
	footerText = "Shield Security Bot"

	// fieldValueLimit is Discord's hard cap on an embed field value.
	fieldValueLimit = 1024

	evidenceFieldName     = "Captured Images"
	evidenceContFieldName = "Captured Images (cont.)"
)

// ChannelMessenger is the slice of the Discord REST API the audit logger
// needs. disgo's rest client satisfies it.
type ChannelMessenger interface {
	CreateMessage(
		channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt,
	) (*discord.Message, error)
}

// Logger posts episode records to guild log channels. It never fails the
// pipeline: a missing destination or a failed post is logged and dropped.
type Logger struct {
	rest   ChannelMessenger
	logger *zap.Logger
}

// NewLogger creates an audit logger backed by the given REST client.
func NewLogger(restClient ChannelMessenger, logger *zap.Logger) *Logger {
	return &Logger{
		rest:   restClient,
		logger: logger.Named("audit"),
	}
}

// Record renders and posts the episode record. No-op with a warning when the
// guild has no configured log destination.
func (l *Logger) Record(ctx context.Context, episode *scanner.Episode) {
	if episode.Policy == nil || episode.Policy.LogChannelID == nil {
		l.logger.Warn("No log channel configured for guild",
			zap.Uint64("guild_id", uint64(episode.Message.GuildID)),
			zap.String("episode_id", episode.ID))

		return
	}

	embed := l.buildEmbed(episode)

	_, err := l.rest.CreateMessage(*episode.Policy.LogChannelID,
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build(),
		rest.WithCtx(ctx))
	if err != nil {
		l.logger.Error("Failed to post audit record",
			zap.Error(err),
			zap.Uint64("log_channel_id", uint64(*episode.Policy.LogChannelID)),
			zap.String("episode_id", episode.ID))

		return
	}

	l.logger.Info("Episode recorded to log channel", zap.String("episode_id", episode.ID))
}

func (l *Logger) buildEmbed(episode *scanner.Episode) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle(episodeTitle(episode)).
		SetColor(embedColor).
		SetTimestamp(time.Now()).
		SetFooter(footerText, "").
		AddField("User", fmt.Sprintf("<@%s> (%s)", episode.Message.AuthorID, episode.Message.AuthorID), true).
		AddField("Channel", fmt.Sprintf("<#%s>", episode.Message.ChannelID), true).
		AddField("Verdict", episode.Verdict.Reason, false)

	if episode.Window.IsLikelyCoordinatedBurst() {
		builder.SetDescription(fmt.Sprintf(
			"⚠️ **Potential scam** (%d %s sent with no text)",
			episode.Verdict.ImageCount, pluralImages(episode.Verdict.ImageCount),
		))
	}

	builder.AddField("Action", sanctionSummary(episode), false)

	if len(episode.Window.Messages) > 1 {
		builder.AddField("Recent Activity", fmt.Sprintf(
			"%d messages in the last window, %d without text, %d attachments total",
			len(episode.Window.Messages),
			episode.Window.EmptyMessageCount,
			episode.Window.TotalImageCount,
		), false)
	}

	for _, field := range l.evidenceFields(episode.Evidence) {
		builder.AddField(field.Name, field.Value, false)
	}

	return builder.Build()
}

// evidenceFields packs evidence links into successive fields, each holding as
// many lines as fit under the field value limit. Overflow starts a new
// continuation field; links are never split mid-line.
func (l *Logger) evidenceFields(items []scanner.EvidenceItem) []discord.EmbedField {
	if len(items) == 0 {
		return []discord.EmbedField{{
			Name:  "⚠️ Images Not Captured",
			Value: "Images were not saved (archival backend disabled or failed)",
		}}
	}

	var (
		fields  []discord.EmbedField
		current strings.Builder
	)

	flush := func() {
		if current.Len() == 0 {
			return
		}

		name := evidenceFieldName
		if len(fields) > 0 {
			name = evidenceContFieldName
		}

		fields = append(fields, discord.EmbedField{Name: name, Value: current.String()})
		current.Reset()
	}

	for i, item := range items {
		line := fmt.Sprintf("[%s](%s)", normalizeLabel(item.OriginalFilename, i+1), item.ArchivedURL)

		if len(line) > fieldValueLimit {
			// A single link that cannot fit in any field; truncation is the
			// only option left and it is logged, not silent.
			l.logger.Warn("Evidence link exceeds field limit, truncating",
				zap.String("filename", item.OriginalFilename))

			line = line[:fieldValueLimit]
		}

		// +1 for the joining newline
		if current.Len() > 0 && current.Len()+len(line)+1 > fieldValueLimit {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString("\n")
		}

		current.WriteString(line)
	}

	flush()

	return fields
}

// normalizeLabel replaces the attachment base name with a generic token,
// preserving only the original extension, so internal naming never leaks
// into the log channel.
func normalizeLabel(filename string, index int) string {
	return fmt.Sprintf("evidence-%d%s", index, strings.ToLower(filepath.Ext(filename)))
}

func episodeTitle(episode *scanner.Episode) string {
	if episode.Verdict.Outcome == scanner.OutcomeExempt {
		return "⚠️ Security Notice: Excluded Role"
	}

	if episode.Outcome != nil && episode.Outcome.SanctionKind == scanner.SanctionBan {
		return "🚨 Security Action: User Banned"
	}

	return "🚨 Security Action: User Timed Out"
}

func sanctionSummary(episode *scanner.Episode) string {
	if episode.Verdict.Outcome == scanner.OutcomeExempt {
		return "No action taken (author holds an excluded role)"
	}

	outcome := episode.Outcome
	if outcome == nil {
		return "No action recorded"
	}

	var parts []string

	if outcome.Deleted {
		parts = append(parts, "message deleted")
	} else {
		parts = append(parts, "message **not** deleted")
	}

	if outcome.SanctionApplied {
		switch outcome.SanctionKind {
		case scanner.SanctionBan:
			parts = append(parts, "author banned")
		case scanner.SanctionTimeout:
			parts = append(parts, fmt.Sprintf("author timed out for %s",
				moderation.FormatDuration(outcome.SanctionDuration)))
		}
	} else {
		parts = append(parts, fmt.Sprintf("%s **not** applied", outcome.SanctionKind))
	}

	summary := strings.Join(parts, ", ")

	if outcome.FailureReason != "" {
		summary += fmt.Sprintf("\nFirst failure: %s", outcome.FailureReason)
	}

	return summary
}

func pluralImages(n int) string {
	if n == 1 {
		return "image"
	}

	return "images"
}
