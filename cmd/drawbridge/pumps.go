package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drawbridge/drawbridge/internal/common/config"
	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// startPumps launches the daemon's background loops: the inbound
// receiver, the approval timeout sweeper and the command directory
// watcher. They run until the root context is cancelled; the returned
// group context is done early when any pump fails.
func startPumps(ctx context.Context, svcs *services, cfg *config.Config, log *logger.Logger) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return receivePump(gctx, svcs, log)
	})
	g.Go(func() error {
		return sweepPump(gctx, svcs.approvals, cfg.Approval.SweepIntervalDuration())
	})
	g.Go(func() error {
		if _, err := svcs.mirror.Resync(gctx); err != nil {
			log.Error("Initial command resync failed", zap.Error(err))
		}
		return svcs.mirror.Run(gctx)
	})

	return g, gctx
}

// receivePump is the daemon's main loop: each inbound gateway message
// goes through the router, and the winning handler's reply goes back to
// the sender's thread. Commands forwarded to a session stream their
// output through the orchestrator instead of replying here.
func receivePump(ctx context.Context, svcs *services, log *logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-svcs.transport.Events():
			if !ok {
				return nil
			}
			reply := svcs.router.Dispatch(ctx, in.ThreadID, in.Text)
			if reply == "" {
				continue
			}
			if err := svcs.transport.SendMessage(ctx, in.ThreadID, reply); err != nil {
				log.Error("Failed to send reply",
					zap.String("thread_id", in.ThreadID), zap.Error(err))
			}
		}
	}
}

// sweepPump periodically expires pending approvals past their TTL. The
// ledger logs each retired request.
func sweepPump(ctx context.Context, approvals approvalSweeper, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			approvals.CheckTimeouts()
		}
	}
}

type approvalSweeper interface {
	CheckTimeouts() int
}
