// Package moderation enacts the response to a triggering message: message
// deletion and an independent member sanction.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/policy"
	"github.com/shieldguard/shield/internal/scanner"
)

// AuditReason is attached to every moderation call so platform-side audit
// logs are traceable to this system.
const AuditReason = "shield: image-only message matched scan policy (automated security action)"

// RestClient is the slice of the Discord REST API the executor needs.
// disgo's rest client satisfies it.
type RestClient interface {
	DeleteMessage(channelID snowflake.ID, messageID snowflake.ID, opts ...rest.RequestOpt) error
	UpdateMember(
		guildID snowflake.ID, userID snowflake.ID, memberUpdate discord.MemberUpdate, opts ...rest.RequestOpt,
	) (*discord.Member, error)
	AddBan(
		guildID snowflake.ID, userID snowflake.ID, deleteMessageDuration time.Duration, opts ...rest.RequestOpt,
	) error
}

// Executor performs the delete and sanction sub-actions for a triggering
// message. The sub-actions are independent: a deletion failure never blocks
// the sanction attempt and vice versa.
type Executor struct {
	rest   RestClient
	logger *zap.Logger
}

// NewExecutor creates an action executor backed by the given REST client.
func NewExecutor(restClient RestClient, logger *zap.Logger) *Executor {
	return &Executor{
		rest:   restClient,
		logger: logger.Named("moderation"),
	}
}

// Act deletes the triggering message and applies the policy's sanction to
// its author. Each sub-action reports success or failure independently; the
// first failure is recorded and later sub-actions still run best-effort.
func (e *Executor) Act(ctx context.Context, msg scanner.Message, p *policy.GuildPolicy) scanner.ActionOutcome {
	outcome := scanner.ActionOutcome{SanctionKind: scanner.SanctionTimeout}
	if p.EscalateToBan {
		outcome.SanctionKind = scanner.SanctionBan
	}

	if err := e.rest.DeleteMessage(msg.ChannelID, msg.ID, rest.WithReason(AuditReason), rest.WithCtx(ctx)); err != nil {
		e.logger.Error("Failed to delete message",
			zap.Error(err),
			zap.Uint64("message_id", uint64(msg.ID)),
			zap.Uint64("channel_id", uint64(msg.ChannelID)))

		outcome.FailureReason = fmt.Sprintf("delete message: %s", err)
	} else {
		outcome.Deleted = true
	}

	var sanctionErr error

	switch outcome.SanctionKind {
	case scanner.SanctionBan:
		sanctionErr = e.ban(ctx, msg)
	case scanner.SanctionTimeout:
		sanctionErr = e.timeout(ctx, msg, p.Timeout)
		outcome.SanctionDuration = p.Timeout
	}

	if sanctionErr != nil {
		e.logger.Error("Failed to sanction member",
			zap.Error(sanctionErr),
			zap.String("sanction", string(outcome.SanctionKind)),
			zap.Uint64("user_id", uint64(msg.AuthorID)),
			zap.Uint64("guild_id", uint64(msg.GuildID)))

		if outcome.FailureReason == "" {
			outcome.FailureReason = fmt.Sprintf("%s member: %s", outcome.SanctionKind, sanctionErr)
		}
	} else {
		outcome.SanctionApplied = true
	}

	return outcome
}

// timeout disables member communication for the policy duration.
// Over-cap durations are rejected at the policy boundary; they are never
// silently truncated here.
func (e *Executor) timeout(ctx context.Context, msg scanner.Message, duration time.Duration) error {
	if duration <= 0 || duration > policy.MaxTimeout {
		return fmt.Errorf("%w: %s", policy.ErrInvalidTimeout, duration)
	}

	until := time.Now().Add(duration)

	_, err := e.rest.UpdateMember(msg.GuildID, msg.AuthorID, discord.MemberUpdate{
		CommunicationDisabledUntil: json.NewNullablePtr(until),
	}, rest.WithReason(AuditReason), rest.WithCtx(ctx))
	if err != nil {
		return err
	}

	e.logger.Info("Timed out member",
		zap.Uint64("user_id", uint64(msg.AuthorID)),
		zap.String("duration", FormatDuration(duration)))

	return nil
}

func (e *Executor) ban(ctx context.Context, msg scanner.Message) error {
	if err := e.rest.AddBan(msg.GuildID, msg.AuthorID, 0, rest.WithReason(AuditReason), rest.WithCtx(ctx)); err != nil {
		return err
	}

	e.logger.Info("Banned member", zap.Uint64("user_id", uint64(msg.AuthorID)))

	return nil
}

// FormatDuration renders a sanction duration for the audit record, e.g.
// "1 day and 2 hours" or "45 minutes".
func FormatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%s and %s", plural(days, "day"), plural(hours, "hour"))
	case days > 0:
		return plural(days, "day")
	case hours > 0:
		return plural(hours, "hour")
	default:
		return plural(int(d.Minutes()), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}

	return fmt.Sprintf("%d %ss", n, unit)
}
