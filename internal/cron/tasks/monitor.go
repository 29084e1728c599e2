package tasks

import (
	"context"
	"go.coinpayportal.com/engine/service"
	"go.uber.org/zap"
)

const CronTaskMonitorCycle = "monitor_cycle"

func MonitorCycle(ctx context.Context, monitor service.MonitorService, logger *zap.Logger) error {
	result, err := monitor.RunCycle(ctx)
	if err != nil {
		return err
	}

	if result.Checked > 0 || result.Expired > 0 {
		logger.Debug("scheduled monitor cycle",
			zap.Int("checked", result.Checked),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("expired", result.Expired),
			zap.Int("errors", result.Errors),
		)
	}

	return nil
}
