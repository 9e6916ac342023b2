package senders

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/models"
)

// Summary describes one finished tick for the digest message.
type Summary struct {
	Source   string
	Keywords int
	Found    int
	New      int
	Duration time.Duration
}

// Sender pushes outbound notifications to one platform. Implementations must
// be safe to call again for the same listing after a failure; at-most-once
// delivery is enforced by the listing store's flag, not here.
type Sender interface {
	SendListing(ctx context.Context, listing *models.Listing) error
	SendSummary(ctx context.Context, summary Summary) error
}

type Registry map[string]Sender

func NewRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return Registry{
		"telegram": &telegramSender{base},
		"email":    &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
