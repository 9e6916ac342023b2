package senders

import (
	"context"
	"fmt"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/adscout/adscout/lib/models"
)

// telegramSender posts to the Telegram Bot API. Markdown formatting and the
// link preview carry the listing image, so no separate media upload is
// needed.
type telegramSender struct {
	base
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *telegramSender) SendListing(ctx context.Context, listing *models.Listing) error {
	return t.send(ctx, FormatListing(listing), true)
}

func (t *telegramSender) SendSummary(ctx context.Context, summary Summary) error {
	return t.send(ctx, FormatSummary(summary), false)
}

func (t *telegramSender) send(ctx context.Context, text string, linkPreview bool) error {
	timeout := time.Duration(t.cfg.Telegram.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resp telegramResponse
	err := requests.
		URL(fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.Telegram.BotToken)).
		Transport(t.transport).
		Param("chat_id", t.cfg.Telegram.ChatID).
		Param("text", text).
		Param("parse_mode", "Markdown").
		Param("disable_web_page_preview", fmt.Sprintf("%t", !linkPreview)).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("telegram rejected message: %s", resp.Description)
	}
	return nil
}
