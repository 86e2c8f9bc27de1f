package analysis

import "github.com/wonny/screener/pkg/logger"

// Reporter receives run progress. Implementations must be cheap; the
// pipeline calls Progress once per security.
type Reporter interface {
	Progress(current, total int, label string)
	Log(message string)
}

// LoggerReporter writes progress to the structured log.
type LoggerReporter struct {
	log *logger.Logger
}

// NewLoggerReporter creates a reporter over the given logger.
func NewLoggerReporter(log *logger.Logger) *LoggerReporter {
	return &LoggerReporter{log: log}
}

func (r *LoggerReporter) Progress(current, total int, label string) {
	r.log.WithFields(map[string]interface{}{
		"current": current,
		"total":   total,
		"label":   label,
	}).Info("분석 진행")
}

func (r *LoggerReporter) Log(message string) {
	r.log.Info(message)
}

// nopReporter is used when no reporter is wired.
type nopReporter struct{}

func (nopReporter) Progress(int, int, string) {}
func (nopReporter) Log(string)                {}
