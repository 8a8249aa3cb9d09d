package events

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/config"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events/bus"
)

// Provide selects the event bus for this run: NATS when a URL is
// configured, the in-process bus otherwise. The returned cleanup is
// safe to call once the bus has no more publishers.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.ConnectNATS(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		log.Info("Using NATS event bus", zap.String("url", cfg.NATS.URL))
		return natsBus, natsBus.Close, nil
	}

	memBus := bus.NewMemory(log)
	log.Info("Using in-memory event bus")
	return memBus, memBus.Close, nil
}
