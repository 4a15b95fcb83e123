package scanner

import (
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Attachment is one file carried by a message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// Message is the platform-independent view of a chat message used by the
// scan pipeline. Instances are immutable once built.
type Message struct {
	ID            snowflake.ID
	GuildID       snowflake.ID
	ChannelID     snowflake.ID
	AuthorID      snowflake.ID
	AuthorName    string
	AuthorIsBot   bool
	AuthorRoleIDs []snowflake.ID
	Content       string
	CreatedAt     time.Time
	Attachments   []Attachment
}

// FromDiscordMessage converts a disgo message into the pipeline's message type.
// Role IDs are only available when the gateway delivered member data.
func FromDiscordMessage(m discord.Message) Message {
	msg := Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		AuthorIsBot: m.Author.Bot,
		Content:     m.Content,
		CreatedAt:   m.ID.Time(),
	}

	if m.GuildID != nil {
		msg.GuildID = *m.GuildID
	}

	if m.Member != nil {
		msg.AuthorRoleIDs = m.Member.RoleIDs
	}

	for _, a := range m.Attachments {
		attachment := Attachment{
			URL:      a.URL,
			Filename: a.Filename,
		}
		if a.ContentType != nil {
			attachment.ContentType = *a.ContentType
		}

		msg.Attachments = append(msg.Attachments, attachment)
	}

	return msg
}

// IsEmpty reports whether the message carries no text after trimming whitespace.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// ImageAttachments returns the attachments whose filename extension belongs
// to the supported image set, preserving order.
func (m Message) ImageAttachments() []Attachment {
	var images []Attachment

	for _, a := range m.Attachments {
		if IsImageAttachment(a) {
			images = append(images, a)
		}
	}

	return images
}
