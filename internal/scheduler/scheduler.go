package scheduler

import (
	"fmt"
	"time"

	"github.com/brickvest/estate-finance/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// dueSweepSpec runs the payment sweep every morning at 08:00.
const dueSweepSpec = "0 8 * * *"

// Scheduler runs the recurring payment sweep
type Scheduler struct {
	cron *cron.Cron
	svc  *service.Service
	log  *logrus.Logger
}

// New creates a scheduler around the given service
func New(svc *service.Service, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		svc:  svc,
		log:  log,
	}
}

// Start registers the jobs and launches the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(dueSweepSpec, s.runDueSweep); err != nil {
		return fmt.Errorf("failed to schedule due sweep: %w", err)
	}
	s.cron.Start()
	s.log.Infof("Scheduler started, due sweep at %q", dueSweepSpec)
	return nil
}

// Stop halts the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runDueSweep() {
	if err := s.svc.ProcessDuePayments(time.Now().UTC()); err != nil {
		s.log.Errorf("Due sweep failed: %v", err)
	}
}
