package notifier

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("notifier",
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, n *Notifier) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			n.Stop()
			return nil
		},
	})
}
