package scanner

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shieldguard/shield/internal/policy"
)

// EvidenceBackend names the archival strategy that produced an evidence item.
type EvidenceBackend string

const (
	// BackendCaptureService is the external authenticated upload store.
	BackendCaptureService EvidenceBackend = "capture_service"
	// BackendRelayChannel re-posts evidence to a storage channel on the platform.
	BackendRelayChannel EvidenceBackend = "relay_channel"
)

// EvidenceItem is one image archived before the source message was destroyed.
// Archival failures produce no item, never an item with an empty URL.
type EvidenceItem struct {
	SourceMessageID  snowflake.ID
	OriginalFilename string
	ArchivedURL      string
	Backend          EvidenceBackend
}

// SanctionKind is the moderation sanction applied to an author.
type SanctionKind string

const (
	SanctionTimeout SanctionKind = "timeout"
	SanctionBan     SanctionKind = "ban"
)

// ActionOutcome records the independent results of enacting moderation.
type ActionOutcome struct {
	Deleted          bool
	SanctionApplied  bool
	SanctionKind     SanctionKind
	SanctionDuration time.Duration
	// FailureReason holds the first sub-action failure; later sub-actions
	// still run best-effort.
	FailureReason string
}

// Episode carries the full state of one triggering or exempt pipeline run.
type Episode struct {
	ID       string
	Message  Message
	Policy   *policy.GuildPolicy
	Verdict  Verdict
	Window   Window
	Evidence []EvidenceItem
	// Outcome is nil for exempt episodes, which never reach the executor.
	Outcome *ActionOutcome
}

// PolicyProvider supplies the read-only guild policy for scan decisions.
type PolicyProvider interface {
	Get(ctx context.Context, guildID snowflake.ID) (*policy.GuildPolicy, error)
}

// Archiver relocates image evidence to durable storage before deletion.
// Implementations never return an error to the pipeline; per-attachment
// failures reduce the returned set.
type Archiver interface {
	// Enabled reports whether a backend is configured. A disabled archiver
	// is a normal state and yields an empty evidence set.
	Enabled() bool
	Archive(ctx context.Context, window Window) []EvidenceItem
}

// Executor enacts the moderation action for a triggering message.
type Executor interface {
	Act(ctx context.Context, msg Message, p *policy.GuildPolicy) ActionOutcome
}

// Auditor renders the structured episode record to the guild's log destination.
// Implementations never fail the pipeline.
type Auditor interface {
	Record(ctx context.Context, episode *Episode)
}
