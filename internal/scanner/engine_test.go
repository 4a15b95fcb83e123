package scanner_test

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"

	"github.com/shieldguard/shield/internal/policy"
	"github.com/shieldguard/shield/internal/scanner"
)

func imageMessage(count int) scanner.Message {
	msg := scanner.Message{
		ID:        snowflake.New(time.Now()),
		GuildID:   100,
		ChannelID: 200,
		AuthorID:  300,
	}

	for i := 0; i < count; i++ {
		msg.Attachments = append(msg.Attachments, scanner.Attachment{
			URL:      "https://cdn.example.com/a.png",
			Filename: "a.png",
		})
	}

	return msg
}

func exactPolicy(threshold int) *policy.GuildPolicy {
	return &policy.GuildPolicy{
		GuildID:    100,
		Threshold:  threshold,
		Comparator: policy.ComparatorExact,
		Timeout:    time.Hour,
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	excluded := exactPolicy(4)
	excluded.ExcludedRoleIDs = []snowflake.ID{42}

	greater := &policy.GuildPolicy{
		GuildID:    100,
		Threshold:  3,
		Comparator: policy.ComparatorGreaterThan,
		Timeout:    time.Hour,
	}

	tests := []struct {
		name    string
		message func() scanner.Message
		policy  *policy.GuildPolicy
		want    scanner.Outcome
	}{
		{
			name: "message with text is ignored regardless of attachments",
			message: func() scanner.Message {
				msg := imageMessage(4)
				msg.Content = "look at these"
				return msg
			},
			policy: exactPolicy(4),
			want:   scanner.OutcomeIgnore,
		},
		{
			name: "whitespace-only content counts as empty",
			message: func() scanner.Message {
				msg := imageMessage(4)
				msg.Content = "  \n\t "
				return msg
			},
			policy: exactPolicy(4),
			want:   scanner.OutcomeTrigger,
		},
		{
			name: "bot author is ignored",
			message: func() scanner.Message {
				msg := imageMessage(4)
				msg.AuthorIsBot = true
				return msg
			},
			policy: exactPolicy(4),
			want:   scanner.OutcomeIgnore,
		},
		{
			name:    "exact threshold matches",
			message: func() scanner.Message { return imageMessage(4) },
			policy:  exactPolicy(4),
			want:    scanner.OutcomeTrigger,
		},
		{
			name:    "exact threshold below",
			message: func() scanner.Message { return imageMessage(3) },
			policy:  exactPolicy(4),
			want:    scanner.OutcomeIgnore,
		},
		{
			name:    "exact threshold above",
			message: func() scanner.Message { return imageMessage(5) },
			policy:  exactPolicy(4),
			want:    scanner.OutcomeIgnore,
		},
		{
			name:    "greater than threshold",
			message: func() scanner.Message { return imageMessage(4) },
			policy:  greater,
			want:    scanner.OutcomeTrigger,
		},
		{
			name:    "greater than threshold equal does not trigger",
			message: func() scanner.Message { return imageMessage(3) },
			policy:  greater,
			want:    scanner.OutcomeIgnore,
		},
		{
			name: "excluded role is exempt regardless of threshold",
			message: func() scanner.Message {
				msg := imageMessage(4)
				msg.AuthorRoleIDs = []snowflake.ID{7, 42}
				return msg
			},
			policy: excluded,
			want:   scanner.OutcomeExempt,
		},
		{
			name:    "nil policy never triggers",
			message: func() scanner.Message { return imageMessage(4) },
			policy:  nil,
			want:    scanner.OutcomeIgnore,
		},
		{
			name:    "zero threshold policy is invalid and never triggers",
			message: func() scanner.Message { return imageMessage(0) },
			policy:  exactPolicy(0),
			want:    scanner.OutcomeIgnore,
		},
		{
			name: "non-image attachments do not count toward the threshold",
			message: func() scanner.Message {
				msg := imageMessage(3)
				msg.Attachments = append(msg.Attachments, scanner.Attachment{
					URL:      "https://cdn.example.com/notes.pdf",
					Filename: "notes.pdf",
				})
				return msg
			},
			policy: exactPolicy(4),
			want:   scanner.OutcomeIgnore,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verdict := scanner.Decide(tt.message(), tt.policy)
			assert.Equal(t, tt.want, verdict.Outcome)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestDecideImageCount(t *testing.T) {
	t.Parallel()

	msg := imageMessage(3)
	msg.Attachments = append(msg.Attachments,
		scanner.Attachment{URL: "https://cdn.example.com/b.JPG", Filename: "b.JPG"},
		scanner.Attachment{URL: "https://cdn.example.com/c.txt", Filename: "c.txt"},
	)

	verdict := scanner.Decide(msg, exactPolicy(4))
	assert.Equal(t, scanner.OutcomeTrigger, verdict.Outcome)
	assert.Equal(t, 4, verdict.ImageCount)
}

func TestDecideIsDeterministic(t *testing.T) {
	t.Parallel()

	msg := imageMessage(4)
	p := exactPolicy(4)

	first := scanner.Decide(msg, p)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, scanner.Decide(msg, p))
	}
}

func TestIsImageAttachment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     bool
	}{
		{"photo.png", true},
		{"photo.jpg", true},
		{"photo.JPEG", true},
		{"anim.gif", true},
		{"sticker.webp", true},
		{"old.bmp", true},
		{"vector.svg", true},
		{"fav.ico", true},
		{"doc.pdf", false},
		{"archive.zip", false},
		{"noextension", false},
		{"", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.filename, func(t *testing.T) {
			t.Parallel()

			got := scanner.IsImageAttachment(scanner.Attachment{Filename: tt.filename})
			assert.Equal(t, tt.want, got)
		})
	}
}
