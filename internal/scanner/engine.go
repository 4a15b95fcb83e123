package scanner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shieldguard/shield/internal/policy"
)

// Outcome is the result of the scan decision stage.
type Outcome string

const (
	// OutcomeIgnore means the message is not a scan candidate.
	OutcomeIgnore Outcome = "ignore"
	// OutcomeExempt means the message matched but the author holds an excluded role.
	OutcomeExempt Outcome = "exempt"
	// OutcomeTrigger means the message matched and moderation action follows.
	OutcomeTrigger Outcome = "trigger"
)

// Verdict is the outcome of scanning a single message against a policy.
type Verdict struct {
	Outcome    Outcome
	ImageCount int
	Reason     string
}

// imageExtensions is the set of filename extensions that count toward the
// image threshold. Matching is purely name-based; content is never inspected.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
	".svg":  {},
	".ico":  {},
}

// IsImageAttachment reports whether the attachment's filename extension
// belongs to the supported image set.
func IsImageAttachment(a Attachment) bool {
	ext := strings.ToLower(filepath.Ext(a.Filename))
	_, ok := imageExtensions[ext]

	return ok
}

// Decide maps a message and a guild policy to a scan verdict.
// It is deterministic, touches no shared state and performs no I/O;
// it runs on every inbound message.
func Decide(msg Message, p *policy.GuildPolicy) Verdict {
	if msg.AuthorIsBot {
		return Verdict{Outcome: OutcomeIgnore, Reason: "author is a bot"}
	}

	if !msg.IsEmpty() {
		return Verdict{Outcome: OutcomeIgnore, Reason: "message contains text"}
	}

	// A missing or invalid policy never triggers and never faults.
	if !p.Valid() {
		return Verdict{Outcome: OutcomeIgnore, Reason: "no valid scan policy"}
	}

	imageCount := len(msg.ImageAttachments())

	if p.HasExcludedRole(msg.AuthorRoleIDs) {
		return Verdict{
			Outcome:    OutcomeExempt,
			ImageCount: imageCount,
			Reason:     "author holds an excluded role",
		}
	}

	var triggered bool

	switch p.Comparator {
	case policy.ComparatorExact:
		triggered = imageCount == p.Threshold
	case policy.ComparatorGreaterThan:
		triggered = imageCount > p.Threshold
	}

	if !triggered {
		return Verdict{
			Outcome:    OutcomeIgnore,
			ImageCount: imageCount,
			Reason:     fmt.Sprintf("image count %d does not match %s threshold %d", imageCount, p.Comparator, p.Threshold),
		}
	}

	return Verdict{
		Outcome:    OutcomeTrigger,
		ImageCount: imageCount,
		Reason:     fmt.Sprintf("image-only message with %d images matched %s threshold %d", imageCount, p.Comparator, p.Threshold),
	}
}
