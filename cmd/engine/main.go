package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"fanpulse-engine/internal/httpapi"
	"fanpulse-engine/pkg/config"
	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/logger"
	"fanpulse-engine/pkg/notifier"
	"fanpulse-engine/pkg/redis"
	"fanpulse-engine/pkg/server"
	"fanpulse-engine/pkg/task"
	"fanpulse-engine/services/campaign"
	"fanpulse-engine/services/ledger"
	"fanpulse-engine/services/messaging"
	"fanpulse-engine/services/ranking"
	"fanpulse-engine/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		notifier.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		ledger.Module,
		reward.Module,
		messaging.Module,
		ranking.Module,
		campaign.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
