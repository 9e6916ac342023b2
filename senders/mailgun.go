package senders

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/adscout/adscout/lib/models"
)

// mailgunSender is the alternate sink platform: one email per listing plus a
// digest per tick, delivered through Mailgun.
type mailgunSender struct {
	base
}

func (e *mailgunSender) SendListing(ctx context.Context, listing *models.Listing) error {
	subject := fmt.Sprintf("New listing: %s", listing.Title)
	body := fmt.Sprintf(
		`<h3><a href="%s">%s</a></h3>
		<p>%s — %s</p>
		<p>Matched %q on %s</p>`,
		listing.URL, listing.Title,
		listing.Price, listing.Location,
		listing.Keyword, listing.Source,
	)
	if listing.ImageURL != "" {
		body += fmt.Sprintf(`<img src="%s" alt="listing image">`, listing.ImageURL)
	}
	return e.send(ctx, subject, body)
}

func (e *mailgunSender) SendSummary(ctx context.Context, summary Summary) error {
	subject := fmt.Sprintf("Search finished: %s", summary.Source)
	body := fmt.Sprintf(
		`<p>Keywords: %d<br>Found: %d<br>New: %d<br>Duration: %.1fs</p>`,
		summary.Keywords, summary.Found, summary.New, summary.Duration.Seconds(),
	)
	return e.send(ctx, subject, body)
}

func (e *mailgunSender) send(ctx context.Context, subject, body string) error {
	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport

	// Create message with empty body first, then SetHtml so the MIME type is
	// assigned properly.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, subject, "", e.cfg.Mailgun.Recipient)
	message.SetHtml(body)

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := mg.Send(ctx, message)
	return err
}
