package main

import (
	"github.com/nholik/slot-sentinel/internal/config"
	"github.com/nholik/slot-sentinel/internal/notify"
	"github.com/rs/zerolog"
)

func slackMention(value string) notify.Mention {
	switch value {
	case "":
		return notify.Mention{}
	case config.SlackMentionChannel:
		return notify.Mention{Everyone: true}
	case config.SlackMentionHere:
		return notify.Mention{Here: true}
	default:
		return notify.Mention{UserID: value}
	}
}

// buildNotifier fans out to every configured sink, or only logs in dry-run mode.
func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	sinks := make([]notify.Notifier, 0, 3)

	if cfg.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscordNotifier(logger, cfg.DiscordWebhookURL, notify.DiscordOptions{
			Mention: notify.Mention{
				UserID:   cfg.DiscordMentionUserID,
				Everyone: cfg.DiscordUseEveryone,
				Here:     cfg.DiscordUseHere,
			},
			ThreadID:  cfg.DiscordThreadID,
			Wait:      cfg.DiscordWait,
			UserAgent: cfg.DiscordUserAgent,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, discord)
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL, notify.WithSlackMention(slackMention(cfg.SlackMention))))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, webhook)
	}

	if cfg.DryRun {
		return notify.NewDryRunNotifier(logger, notify.NewMultiNotifier(sinks...)), nil
	}
	if len(sinks) == 0 {
		return notify.NewNoop(logger, "no notification sink configured; notifications disabled"), nil
	}
	return notify.NewMultiNotifier(sinks...), nil
}
