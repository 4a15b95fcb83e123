package scanner

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline drives one scan episode per inbound message: decide, collect,
// archive, act, record. Stages are strictly sequential within an episode
// because each depends on the previous one's output; episodes themselves are
// independent and may run concurrently without coordination.
type Pipeline struct {
	policies  PolicyProvider
	collector *Collector
	archiver  Archiver
	executor  Executor
	auditor   Auditor
	window    WindowOptions
	logger    *zap.Logger
}

// NewPipeline wires the scan stages together.
func NewPipeline(
	policies PolicyProvider,
	collector *Collector,
	archiver Archiver,
	executor Executor,
	auditor Auditor,
	window WindowOptions,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		policies:  policies,
		collector: collector,
		archiver:  archiver,
		executor:  executor,
		auditor:   auditor,
		window:    window,
		logger:    logger.Named("scanner"),
	}
}

// HandleMessage runs the full pipeline for one inbound message.
// Stage failures are isolated: a failed stage degrades its own output and
// never prevents later independent stages from attempting their work.
func (p *Pipeline) HandleMessage(ctx context.Context, msg Message) {
	guildPolicy, err := p.policies.Get(ctx, msg.GuildID)
	if err != nil {
		// Decide treats a missing policy as non-triggering.
		p.logger.Error("Failed to load guild policy",
			zap.Error(err),
			zap.Uint64("guild_id", uint64(msg.GuildID)))

		guildPolicy = nil
	}

	verdict := Decide(msg, guildPolicy)
	if verdict.Outcome == OutcomeIgnore {
		return
	}

	episode := &Episode{
		ID:      uuid.New().String(),
		Message: msg,
		Policy:  guildPolicy,
		Verdict: verdict,
	}

	episodeLogger := p.logger.With(
		zap.String("episode_id", episode.ID),
		zap.String("outcome", string(verdict.Outcome)),
		zap.Uint64("guild_id", uint64(msg.GuildID)),
		zap.Uint64("channel_id", uint64(msg.ChannelID)),
		zap.Uint64("author_id", uint64(msg.AuthorID)),
		zap.Int("image_count", verdict.ImageCount),
	)
	episodeLogger.Warn("Image-only message matched scan policy")

	// Behavioral context for the audit record; degrades to a single-message window.
	episode.Window = p.collector.Collect(ctx, msg, p.window)

	// Evidence must be archived to completion before the source message can be
	// deleted; it cannot be recovered afterwards.
	episode.Evidence = p.archiver.Archive(ctx, episode.Window)
	episodeLogger.Info("Evidence archival completed",
		zap.Int("archived", len(episode.Evidence)),
		zap.Bool("backend_enabled", p.archiver.Enabled()))

	if verdict.Outcome == OutcomeTrigger {
		outcome := p.executor.Act(ctx, msg, guildPolicy)
		episode.Outcome = &outcome

		if outcome.FailureReason != "" {
			episodeLogger.Error("Moderation action partially failed",
				zap.String("failure", outcome.FailureReason),
				zap.Bool("deleted", outcome.Deleted),
				zap.Bool("sanction_applied", outcome.SanctionApplied))
		} else {
			episodeLogger.Info("Moderation action completed",
				zap.String("sanction", string(outcome.SanctionKind)))
		}
	}

	p.auditor.Record(ctx, episode)
}
