package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/approval"
	"github.com/drawbridge/drawbridge/internal/commands"
	"github.com/drawbridge/drawbridge/internal/common/config"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/emergency"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	"github.com/drawbridge/drawbridge/internal/format"
	"github.com/drawbridge/drawbridge/internal/notify"
	"github.com/drawbridge/drawbridge/internal/router"
	"github.com/drawbridge/drawbridge/internal/session/lifecycle"
	"github.com/drawbridge/drawbridge/internal/session/models"
	"github.com/drawbridge/drawbridge/internal/stream"
	"github.com/drawbridge/drawbridge/internal/supervisor"
	"github.com/drawbridge/drawbridge/internal/transport"
)

// services bundles the components the daemon loop drives directly. The
// rest of the graph (emergency, notifications, the orchestrator) hangs
// off the router and the event bus.
type services struct {
	sessions  *lifecycle.Service
	approvals *approval.Ledger
	processes *supervisor.Manager
	router    *router.Router
	transport *transport.Manager
	mirror    *commands.Mirror
}

// buildServices wires the component graph in dependency order: the
// transport manager is the sender everything else writes through, the
// orchestrator drives child processes, and the router sits on top.
func buildServices(cfg *config.Config, st *stores, eventBus bus.EventBus, log *logger.Logger) *services {
	sessions := lifecycle.NewService(st.sessions, eventBus, log)

	approvals := approval.NewLedger(
		cfg.Approval.TTL(),
		cfg.Approval.WaitTimeoutDuration(),
		cfg.Approval.PollInterval(),
		log,
	)

	emergencySvc := emergency.NewService(st.emergency, log)

	dialer := transport.NewWSDialer(cfg.Transport.GatewayURL, cfg.Transport.AuthToken, log)
	transportMgr := transport.NewManager(dialer, transport.ManagerConfig{
		BufferSize:        cfg.Transport.BufferSize,
		RatePerMinute:     cfg.Transport.RateLimit,
		Burst:             cfg.Transport.BurstSize,
		PenaltyBase:       time.Duration(cfg.Transport.BackoffBase) * time.Second,
		PenaltyMax:        time.Duration(cfg.Transport.BackoffMax) * time.Second,
		Cooldown:          time.Duration(cfg.Transport.Cooldown) * time.Second,
		ReconnectMaxDelay: time.Duration(cfg.Transport.ReconnectMaxDelay) * time.Second,
	}, eventBus, log)
	transportMgr.SetSyncFunc(catchupSync(sessions, log))

	notifyMgr := notify.NewManager(
		st.prefs,
		transportMgr,
		cfg.Transport.AuthorizedThread,
		cfg.Notify.PrefCacheTTLDuration(),
		log,
	)
	if _, err := notifyMgr.Attach(eventBus); err != nil {
		log.Error("Failed to attach notification manager to event bus", zap.Error(err))
	}

	processes := supervisor.NewManager(
		append([]string{cfg.Agent.Command}, cfg.Agent.Args...),
		cfg.Agent.GracefulStopDuration(),
		log,
	)

	display := stream.NewDisplayPrefs()
	streamer := stream.NewOrchestrator(stream.Deps{
		Bridges:   bridgeProvider{processes},
		Approvals: approvals,
		Emergency: emergencySvc,
		Formatter: format.New(cfg.Stream.WrapWidth, cfg.Stream.ChunkSize),
		Sender:    transportMgr,
		Notifier:  notifyMgr,
		Activity:  sessions,
		Display:   display,
	}, stream.Config{
		BatchInterval: cfg.Stream.BatchInterval(),
		TurnIdle:      cfg.Agent.TurnIdleDuration(),
		AttachDir:     cfg.Attachments.Dir,
		WarnSize:      int64(cfg.Attachments.WarnSizeMB) << 20,
		MaxSize:       int64(cfg.Attachments.MaxSizeMB) << 20,
	}, log)

	mirror := commands.NewMirror(cfg.Commands.Dir, cfg.Commands.Debounce(), st.commands, eventBus, log)

	cmdRouter := router.New(cfg.Transport.AuthorizedThread, router.Deps{
		Approvals: approvals,
		Emergency: emergencySvc,
		Notify:    notifyMgr,
		Commands:  st.commands,
		Threads:   st.threads,
		Sessions:  sessions,
		Processes: processes,
		Streamer:  streamer,
		Display:   display,
	}, log)

	return &services{
		sessions:  sessions,
		approvals: approvals,
		processes: processes,
		router:    cmdRouter,
		transport: transportMgr,
		mirror:    mirror,
	}
}

// catchupSync builds the reconnect hook: one summary per session that
// stayed ACTIVE while the link was down, addressed to its thread.
func catchupSync(sessions *lifecycle.Service, log *logger.Logger) transport.SyncFunc {
	return func(ctx context.Context) ([]transport.Catchup, error) {
		all, err := sessions.List(ctx)
		if err != nil {
			return nil, err
		}

		var summaries []transport.Catchup
		for _, s := range all {
			if s.Status != models.StatusActive {
				continue
			}
			text, err := sessions.GenerateCatchupSummary(ctx, s.ID)
			if err != nil {
				log.Warn("catch-up summary failed",
					zap.String("session_id", s.ID), zap.Error(err))
				continue
			}
			summaries = append(summaries, transport.Catchup{
				ThreadID: s.ThreadID,
				Text:     fmt.Sprintf("Catch-up for session %s: %s", format.ShortID(s.ID), text),
			})
		}
		return summaries, nil
	}
}

// bridgeProvider narrows the supervisor's concrete bridge to the
// orchestrator's interface.
type bridgeProvider struct {
	procs *supervisor.Manager
}

func (p bridgeProvider) BridgeFor(sessionID string) (stream.Bridge, error) {
	bridge, err := p.procs.BridgeFor(sessionID)
	if err != nil {
		return nil, err
	}
	return bridge, nil
}
