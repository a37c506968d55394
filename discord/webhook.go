package discord

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// Webhook posts the end-of-run report as an embed on a channel webhook.
type Webhook struct {
	session *discordgo.Session
	id      string
	token   string
	dry     bool
}

// NewWebhook parses a URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewWebhook(session *discordgo.Session, rawURL string, dry bool) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "webhooks" {
		return nil, fmt.Errorf("webhook url %q: missing id/token", rawURL)
	}

	return &Webhook{
		session: session,
		id:      parts[len(parts)-2],
		token:   parts[len(parts)-1],
		dry:     dry,
	}, nil
}

func (w *Webhook) SendEmbed(title, description string) error {
	if w.dry {
		log.Info().Str("title", title).Msg("dry run: send webhook embed")
		return nil
	}

	_, err := w.session.WebhookExecute(w.id, w.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: description,
		}},
	})
	if err != nil {
		return fmt.Errorf("execute webhook: %w", err)
	}
	return nil
}
