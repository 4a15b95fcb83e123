// Package bot owns the Discord gateway connection and feeds inbound guild
// messages into the scan pipeline.
package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/archive"
	"github.com/shieldguard/shield/internal/audit"
	"github.com/shieldguard/shield/internal/moderation"
	"github.com/shieldguard/shield/internal/policy"
	"github.com/shieldguard/shield/internal/scanner"
	"github.com/shieldguard/shield/internal/setup/config"
)

// Bot bundles the Discord client and the scan pipeline it drives.
type Bot struct {
	client   bot.Client
	pipeline *scanner.Pipeline
	logger   *zap.Logger
}

// New creates the Discord client, selects the evidence backend from
// configuration and wires the scan pipeline to the message-create event.
func New(cfg *config.Config, policies *policy.Store, logger *zap.Logger) (*Bot, error) {
	b := &Bot{logger: logger.Named("bot")}

	client, err := disgo.New(cfg.Bot.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnMessageCreate: b.onMessageCreate,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b.client = client

	archiver := selectArchiver(cfg, client, logger)

	b.pipeline = scanner.NewPipeline(
		policies,
		scanner.NewCollector(client.Rest(), logger),
		archiver,
		moderation.NewExecutor(client.Rest(), logger),
		audit.NewLogger(client.Rest(), logger),
		scanner.WindowOptions{
			MaxMessages: cfg.Scanner.WindowMessages,
			Lookback:    cfg.Scanner.Lookback(),
		},
		logger,
	)

	return b, nil
}

// selectArchiver picks the evidence backend: the external capture service
// when configured, the relay channel as fallback, otherwise archival is
// disabled.
func selectArchiver(cfg *config.Config, client bot.Client, logger *zap.Logger) scanner.Archiver {
	if cfg.Archive.Capture.ServerURL != "" && cfg.Archive.Capture.APIKey != "" {
		return archive.NewCaptureArchiver(cfg.Archive.Capture.ServerURL, cfg.Archive.Capture.APIKey, logger)
	}

	if cfg.Archive.Relay.ChannelID != 0 {
		return archive.NewRelayArchiver(client.Rest(), snowflake.ID(cfg.Archive.Relay.ChannelID), logger)
	}

	logger.Warn("No evidence backend configured, archival disabled")

	return archive.NopArchiver{}
}

// Start opens the gateway connection and begins receiving events.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")

	return b.client.OpenGateway(ctx)
}

// Close gracefully shuts down the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
}

// onMessageCreate feeds guild messages into the pipeline. Each message runs
// as an independent episode; episodes share no mutable state so they need no
// coordination.
func (b *Bot) onMessageCreate(event *events.MessageCreate) {
	if event.Message.GuildID == nil || event.Message.WebhookID != nil {
		return
	}

	msg := scanner.FromDiscordMessage(event.Message)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in message scan pipeline",
					zap.Any("panic", r),
					zap.Uint64("message_id", uint64(msg.ID)))
			}
		}()

		b.pipeline.HandleMessage(context.Background(), msg)
	}()
}
