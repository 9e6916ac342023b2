package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adscout/adscout/app"
	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/cleanup"
	"github.com/adscout/adscout/lib/creds"
	"github.com/adscout/adscout/lib/keywords"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/notify"
	"github.com/adscout/adscout/lib/runner"
	"github.com/adscout/adscout/lib/scheduler"
	"github.com/adscout/adscout/senders"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),

		fx.Provide(keywords.NewRegistry),
		fx.Provide(listings.NewStore),
		fx.Provide(creds.NewStore),
		fx.Provide(cleanup.NewManager),

		fx.Provide(runner.NewExecutor),
		fx.Provide(func(e *runner.Executor) scheduler.Runner { return e }),
		fx.Provide(scheduler.NewScheduler),

		fx.Provide(senders.NewRegistry),
		fx.Provide(notify.NewDispatcher),

		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
		fx.Invoke(func(*notify.Dispatcher) {}),
	).Run()
}
