package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"fanpulse-engine/pkg/config"
	"fanpulse-engine/pkg/db"
	"fanpulse-engine/pkg/logger"
	"fanpulse-engine/pkg/redis"
	"fanpulse-engine/pkg/task"
	"fanpulse-engine/services/ranking"
)

// The worker consumes rank recompute tasks enqueued by the engine when
// balance or activity changes invalidate a leaderboard.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Server,
		fx.Provide(
			provideSnowflakeNode,
			ranking.NewService,
		),
		fx.Invoke(
			ranking.RegisterHandlers,
			ranking.RegisterStartupRebuild,
		),
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
