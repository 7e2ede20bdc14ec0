// Package notifier provides desktop notifications for analysis results
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/kibitzer/kibitzer/pkg/logger"
	"github.com/kibitzer/kibitzer/pkg/types"
)

// AnalysisNotifier surfaces long-running analysis outcomes on the
// desktop so the user can leave a deep search unattended.
type AnalysisNotifier struct {
	enabled bool
	logger  logger.Logger

	// send is swappable for tests.
	send func(title, message string) error
}

// New creates a new analysis notifier
func New(cfg types.NotificationConfig, log logger.Logger) *AnalysisNotifier {
	return &AnalysisNotifier{
		enabled: cfg.Enabled,
		logger:  log,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// NotifyAnalysisDone reports a finished search
func (n *AnalysisNotifier) NotifyAnalysisDone(engine string, result types.SearchResult, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "♞ Analysis Complete"
	message := fmt.Sprintf("%s: best %s at depth %d (%s)",
		engine, result.BestMove, result.Depth, formatDuration(duration))
	if result.Mate != nil {
		message = fmt.Sprintf("%s: mate in %d, best %s", engine, *result.Mate, result.BestMove)
	}

	n.sendNotification(title, message)
}

// NotifyEngineDied reports an engine process that exited unexpectedly
func (n *AnalysisNotifier) NotifyEngineDied(engine string) {
	if !n.enabled {
		return
	}

	n.sendNotification("❌ Engine Died", fmt.Sprintf("%s exited unexpectedly", engine))
}

// Private methods

func (n *AnalysisNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("failed to send notification", logger.WithField("error", err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
