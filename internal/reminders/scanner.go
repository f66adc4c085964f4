package reminders

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Scanner promotes pending and snoozed reminders to "due" once their
// remind_at has passed. It is the only writer of the due state.
type Scanner struct {
	db   *gorm.DB
	log  *logrus.Logger
	cron *cron.Cron
}

func NewScanner(db *gorm.DB, log *logrus.Logger) *Scanner {
	return &Scanner{db: db, log: log, cron: cron.New()}
}

// Start registers the minutely sweep and launches the cron loop.
func (s *Scanner) Start() error {
	_, err := s.cron.AddFunc("* * * * *", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("reminder scanner started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("reminder scanner stopped")
}

func (s *Scanner) sweep() {
	res := s.db.Model(&models.Reminder{}).
		Where("status IN ? AND remind_at <= ?",
			[]models.ReminderStatus{models.ReminderPending, models.ReminderSnoozed},
			time.Now()).
		Update("status", models.ReminderDue)
	if res.Error != nil {
		s.log.WithError(res.Error).Error("reminder sweep failed")
		return
	}
	if res.RowsAffected > 0 {
		s.log.WithField("count", res.RowsAffected).Info("reminders due")
	}
}
