// Package sink delivers finished analysis reports and progress notices to
// requester delivery channels.
package sink

import (
	"log"
	"os"

	"holderscope/internal/domain"
)

// ResultSink is how the coordinator reaches requesters. All methods are
// fire-and-forget: delivery failures are logged by the implementation,
// never retried by the caller.
type ResultSink interface {
	// Deliver sends a finished report to a delivery channel.
	Deliver(channel string, report *domain.AnalysisReport)

	// NotifyQueued tells the requester its request was admitted behind
	// other work. position counts the tasks ahead of it, including any
	// currently running one.
	NotifyQueued(channel, tokenAddress string, kind domain.AnalysisKind, position int)

	// NotifyStarted tells the requester its analysis began.
	NotifyStarted(channel, tokenAddress string, kind domain.AnalysisKind)

	// NotifyFailure tells the requester the task failed and how many
	// credits were returned. refunded is 0 when the refund itself failed;
	// the reason then directs the requester to support.
	NotifyFailure(channel, reason string, refunded int64)
}

// LogSink writes every event to a logger. Used by the one-shot CLI and as
// a fallback when no delivery transport is configured.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink. A nil logger defaults to stdout.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.New(os.Stdout, "[sink] ", log.LstdFlags)
	}
	return &LogSink{logger: logger}
}

var _ ResultSink = (*LogSink)(nil)

// Deliver logs a one-line summary of the report.
func (s *LogSink) Deliver(channel string, report *domain.AnalysisReport) {
	clusters := 0
	if report.ConnectionAnalysis != nil {
		clusters = len(report.ConnectionAnalysis.Clusters)
	}
	s.logger.Printf("deliver %s: %s analysis of %s (%s), %d holders, %d clusters",
		channel, report.Kind, report.TokenAddress, report.ContractInfo.Symbol,
		len(report.HoldersAnalysis), clusters)
}

// NotifyQueued logs the queue position.
func (s *LogSink) NotifyQueued(channel, tokenAddress string, kind domain.AnalysisKind, position int) {
	s.logger.Printf("queued %s: %s analysis of %s, %d ahead", channel, kind, tokenAddress, position)
}

// NotifyStarted logs the start of a task.
func (s *LogSink) NotifyStarted(channel, tokenAddress string, kind domain.AnalysisKind) {
	s.logger.Printf("started %s: %s analysis of %s, top %d holders",
		channel, kind, tokenAddress, kind.HolderLimit())
}

// NotifyFailure logs the failure and refund outcome.
func (s *LogSink) NotifyFailure(channel, reason string, refunded int64) {
	s.logger.Printf("failed %s: %s (refunded %d credits)", channel, reason, refunded)
}
