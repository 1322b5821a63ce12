package cron

import (
	"fmt"
	log "log/slog"
)

// InitCron 注册送达补偿扫描并启动调度，spec 非法时不会启动
func InitCron(mgr *Manager) error {
	log.Info("Cron Jobs starting...", "delivery_sweep", mgr.sweepSpec)
	if err := mgr.RegisterJobs(); err != nil {
		return fmt.Errorf("register delivery sweep %q: %w", mgr.sweepSpec, err)
	}
	mgr.Start()
	return nil
}
