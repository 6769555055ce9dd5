package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/config"
	"github.com/vrsandeep/stream-go/internal/models"
)

const (
	PluginAutoUpdateJob   = "plugin-autoupdate"
	TempArchiveCleanupJob = "temp-archive-cleanup"
)

// PluginMaintainer is the part of the installer the scheduled jobs drive.
type PluginMaintainer interface {
	AutoUpdate(ctx context.Context) ([]*models.PluginData, error)
	CleanupTempArchives() (int, error)
}

// RegisterPluginJobs registers the plugin maintenance jobs with jm.
func RegisterPluginJobs(jm *JobManager, svc PluginMaintainer) {
	jm.Register(PluginAutoUpdateJob, "Update plugins", func(ctx context.Context) (string, error) {
		updated, err := svc.AutoUpdate(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %d plugin(s).", len(updated)), nil
	})
	jm.Register(TempArchiveCleanupJob, "Clean up temp archives", func(ctx context.Context) (string, error) {
		removed, err := svc.CleanupTempArchives()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed %d archive(s).", removed), nil
	})
}

// StartJobs starts the background job scheduler. The caller stops it.
func StartJobs(cfg *config.Config, jm *JobManager, log *zap.Logger) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	scheduleJob(s, jm, PluginAutoUpdateJob, cfg.Plugins.AutoUpdateInterval, log)
	scheduleJob(s, jm, TempArchiveCleanupJob, 60, log)

	log.Info("starting background job scheduler")
	s.StartAsync()
	return s
}

func scheduleJob(s *gocron.Scheduler, jm *JobManager, jobID string, minutes int, log *zap.Logger) {
	if minutes <= 0 {
		log.Info("job interval is 0, scheduled runs are disabled", zap.String("job", jobID))
		return
	}

	log.Info("scheduling job", zap.String("job", jobID), zap.Int("minutes", minutes))
	// WaitForSchedule skips the immediate first run.
	_, err := s.Every(minutes).Minutes().WaitForSchedule().Do(func() {
		log.Debug("scheduler is triggering job", zap.String("job", jobID))
		// Going through the manager keeps scheduled and manual runs from overlapping.
		if err := jm.RunJob(jobID); err != nil {
			log.Warn("scheduled job could not start", zap.String("job", jobID), zap.Error(err))
		}
	})
	if err != nil {
		log.Error("error scheduling job", zap.String("job", jobID), zap.Error(err))
	}
}
