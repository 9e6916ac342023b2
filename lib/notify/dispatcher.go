package notify

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/cleanup"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
	"github.com/adscout/adscout/lib/scheduler"
	"github.com/adscout/adscout/senders"
)

// tickBudget bounds the post-tick pipeline: drain, summary, sweep.
const tickBudget = 5 * time.Minute

// Dispatcher consumes tick events and pushes newly-stored listings to the
// configured sink platform, marking each listing delivered only after the
// sink confirms it. Combined with the store's guarded delivered flag this
// yields at-most-one successful notification per listing even across
// restarts.
type Dispatcher struct {
	log       *zap.Logger
	store     *listings.Store
	senders   senders.Registry
	sweeper   *cleanup.Manager
	transport http.RoundTripper

	platform   string
	batchLimit int

	cancel context.CancelFunc
}

func NewDispatcher(
	lc fx.Lifecycle,
	log *zap.Logger,
	cfg *config.Config,
	store *listings.Store,
	registry senders.Registry,
	sweeper *cleanup.Manager,
	sched *scheduler.Scheduler,
	transport http.RoundTripper,
) *Dispatcher {
	d := &Dispatcher{
		log:        log,
		store:      store,
		senders:    registry,
		sweeper:    sweeper,
		transport:  transport,
		platform:   cfg.Notify.Platform,
		batchLimit: cfg.Notify.BatchLimit,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())
			d.cancel = cancel
			go d.consume(loopCtx, sched.Events())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if d.cancel != nil {
				d.cancel()
			}
			return nil
		},
	})

	return d
}

func (d *Dispatcher) consume(ctx context.Context, events <-chan scheduler.TickEvent) {
	d.log.Sugar().Infof("Dispatcher started (platform: %s)", d.platform)

	for {
		select {
		case <-ctx.Done():
			d.log.Sugar().Info("Dispatcher stopped")
			return
		case evt, ok := <-events:
			if !ok {
				d.log.Sugar().Info("Tick event stream closed, dispatcher stopped")
				return
			}
			d.handleTick(ctx, evt)
		}
	}
}

func (d *Dispatcher) handleTick(ctx context.Context, evt scheduler.TickEvent) {
	ctx, cancel := context.WithTimeout(ctx, tickBudget)
	defer cancel()

	delivered, err := d.DrainAndNotify(ctx, evt.Source, d.batchLimit)
	if err != nil {
		d.log.Sugar().Errorw("Drain failed", "source", evt.Source, "err", err)
	} else if delivered > 0 {
		d.log.Sugar().Infof("Delivered %d listing(s) for %s", delivered, evt.Source)
	}

	d.sendSummary(ctx, evt)

	// Items no longer returned by search age out right after each tick.
	if _, err := d.sweeper.SweepUnseen(ctx, 0); err != nil {
		d.log.Sugar().Errorw("Unseen sweep failed", "err", err)
	}
}

// DrainAndNotify pushes undelivered listings for a source, oldest first, and
// marks only the sink-confirmed ones delivered. Per-item retry budget is
// zero: a failed item stays undelivered and is retried on the next drain.
func (d *Dispatcher) DrainAndNotify(ctx context.Context, source string, limit int) (int, error) {
	sender, ok := d.senders[d.platform]
	if !ok {
		d.log.Sugar().Errorf("Unsupported sink platform: %s", d.platform)
		return 0, nil
	}

	batch, err := d.store.Undelivered(ctx, source, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	// Undelivered returns newest-first; deliver oldest-first within the batch.
	for i := len(batch) - 1; i >= 0; i-- {
		listing := batch[i]
		d.enrichImage(ctx, &listing)

		if err := sender.SendListing(ctx, &listing); err != nil {
			d.log.Sugar().Warnw("Failed to send listing, will retry next cycle",
				"url", listing.URL, "err", err)
			continue
		}

		// Mark per item so a crash mid-batch never re-delivers the confirmed
		// prefix.
		n, err := d.store.MarkDelivered(ctx, []uint{listing.ID})
		if err != nil {
			d.log.Sugar().Errorw("Failed to mark listing delivered", "url", listing.URL, "err", err)
			continue
		}
		delivered += int(n)
	}

	return delivered, nil
}

func (d *Dispatcher) sendSummary(ctx context.Context, evt scheduler.TickEvent) {
	sender, ok := d.senders[d.platform]
	if !ok {
		return
	}

	err := sender.SendSummary(ctx, senders.Summary{
		Source:   evt.Source,
		Keywords: evt.Keywords,
		Found:    evt.Found,
		New:      evt.New,
		Duration: evt.Duration,
	})
	if err != nil {
		d.log.Sugar().Warnw("Failed to send tick summary", "source", evt.Source, "err", err)
	}
}

// enrichImage fills a missing image reference from the listing page's meta
// tags. Best effort only; enrichment failure never blocks delivery.
func (d *Dispatcher) enrichImage(ctx context.Context, listing *models.Listing) {
	if listing.ImageURL != "" || listing.URL == "" {
		return
	}
	if url := d.fetchPreviewImage(ctx, listing.URL); url != "" {
		listing.ImageURL = url
	}
}
