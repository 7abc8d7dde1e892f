package telemetry

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const mib = 1024 * 1024

// LogSink writes job events to a zap logger. Progress is logged at debug
// level so a busy archiver does not flood info logs.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) JobStarted(u Update) {
	s.logger.Info("transfer started",
		zap.String("plot", u.DisplayName),
		zap.String("destination", u.Destination),
		zap.String("job_id", u.JobID),
		zap.Int("attempt", u.Attempt),
		zap.Int64("size_bytes", u.TotalBytes),
	)
}

func (s *LogSink) JobProgress(u Update) {
	if ce := s.logger.Check(zap.DebugLevel, "transfer progress"); ce != nil {
		ce.Write(
			zap.String("plot", u.DisplayName),
			zap.String("destination", u.Destination),
			zap.String("progress", formatPercent(u.Percentage)),
			zap.String("speed", formatSpeed(u.SpeedBytesPerSec)),
			zap.Duration("eta", u.Remaining().Round(time.Second)),
		)
	}
}

func (s *LogSink) JobFinished(u Update, err error) {
	fields := []zap.Field{
		zap.String("plot", u.DisplayName),
		zap.String("destination", u.Destination),
		zap.String("job_id", u.JobID),
		zap.Int("attempt", u.Attempt),
	}
	if !u.StartedAt.IsZero() {
		fields = append(fields, zap.Duration("elapsed", time.Since(u.StartedAt).Round(time.Millisecond)))
	}
	if err != nil {
		s.logger.Warn("transfer ended with error", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("transfer finished", fields...)
}

// formatPercent renders a 0..1 fraction.
func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

func formatSpeed(bps float64) string {
	return fmt.Sprintf("%.2f MiB/s", bps/mib)
}
