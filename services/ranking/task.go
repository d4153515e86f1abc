package ranking

import (
	"context"
	"encoding/json"

	"fanpulse-engine/pkg/config"
	"fanpulse-engine/pkg/notifier"
	"fanpulse-engine/pkg/task"
	"fanpulse-engine/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TaskTypeRecompute = "ranking:recompute"
	TaskTypeRebuild   = "ranking:rebuild"
)

const (
	ScopeGlobal  = "global"
	ScopeCreator = "creator"
)

type RecomputePayload struct {
	Scope     string `json:"scope"`
	CreatorID string `json:"creator_id,omitempty"`
}

func NewRecomputeTask(payload RecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRecompute, data, asynq.Queue("low")), nil
}

// RegisterHandlers mounts the recompute and full-rebuild tasks on the
// worker mux. The rebuild task is the maintenance hook for recovering
// snapshots after missed invalidations.
func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TaskTypeRecompute, func(ctx context.Context, t *asynq.Task) error {
		var payload RecomputePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		switch payload.Scope {
		case ScopeCreator:
			return svc.RecomputeCreator(ctx, payload.CreatorID)
		default:
			return svc.RecomputeGlobal(ctx)
		}
	})

	mux.HandleFunc(TaskTypeRebuild, func(ctx context.Context, t *asynq.Task) error {
		return svc.RebuildAll(ctx)
	})
}

// RegisterStartupRebuild rebuilds every snapshot once the worker starts, so
// invalidations dropped during downtime are recovered.
func RegisterStartupRebuild(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := svc.RebuildAll(context.Background()); err != nil {
					zap.L().Error("startup leaderboard rebuild failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

type InvalidationParams struct {
	fx.In
	Config   *config.Config
	Service  *Service
	Notifier *notifier.Notifier
	Enqueuer task.Enqueuer `optional:"true"`
}

// RegisterInvalidation subscribes the ranking engine to balance and activity
// changes. Events are debounced per key so a burst of writes to one user or
// creator triggers a single recompute, and the recompute itself either runs
// inline or goes through the worker queue depending on configuration.
func RegisterInvalidation(p InvalidationParams) {
	debounce := notifier.WithDebounce(p.Config.Engine.DebounceWindow)

	p.Notifier.Subscribe(ledger.TableBalances, nil, func(evt notifier.Event) {
		dispatch(p, RecomputePayload{Scope: ScopeGlobal})
	}, debounce)

	p.Notifier.Subscribe(TableActivity, nil, func(evt notifier.Event) {
		dispatch(p, RecomputePayload{Scope: ScopeCreator, CreatorID: evt.Key})
	}, debounce)
}

func dispatch(p InvalidationParams, payload RecomputePayload) {
	if p.Config.Engine.RecomputeSync || p.Enqueuer == nil {
		ctx := context.Background()
		var err error
		switch payload.Scope {
		case ScopeCreator:
			err = p.Service.RecomputeCreator(ctx, payload.CreatorID)
		default:
			err = p.Service.RecomputeGlobal(ctx)
		}
		if err != nil {
			zap.L().Error("inline rank recompute failed", zap.Error(err))
		}
		return
	}

	t, err := NewRecomputeTask(payload)
	if err != nil {
		zap.L().Error("failed to build recompute task", zap.Error(err))
		return
	}
	if _, err := p.Enqueuer.Enqueue(context.Background(), t); err != nil {
		zap.L().Error("failed to enqueue recompute task", zap.Error(err))
	}
}
