package cron

import (
	"Parley/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine           *cron.Cron
	sweepSpec        string
	deliverySweepJob *job.DeliverySweepJob
}

func NewCronManager(sweepSpec string, deliverySweepJob *job.DeliverySweepJob) *Manager {
	return &Manager{
		engine: cron.New(
			cron.WithSeconds(),
			// 上一轮扫描未结束时跳过本轮
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweepSpec:        sweepSpec,
		deliverySweepJob: deliverySweepJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob(s.sweepSpec, s.deliverySweepJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动", "sweep_spec", s.sweepSpec)
	s.engine.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
