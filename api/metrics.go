package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type moveRequestMetrics struct {
	logger          *log.Logger
	start           time.Time
	guardDuration   time.Duration
	reindexDuration time.Duration
	persistDuration time.Duration
	cardsReindexed  int
	crossList       bool
	errorStage      string
}

func newMoveRequestMetrics(logger *log.Logger) *moveRequestMetrics {
	return &moveRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
}

func (m *moveRequestMetrics) ObserveGuard(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.guardDuration = duration
}

func (m *moveRequestMetrics) ObserveReindex(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.reindexDuration = duration
}

func (m *moveRequestMetrics) ObservePersist(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.persistDuration = duration
}

func (m *moveRequestMetrics) SetCardsReindexed(count int) {
	if count < 0 {
		count = 0
	}
	m.cardsReindexed = count
}

func (m *moveRequestMetrics) SetCrossList(cross bool) {
	m.crossList = cross
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *moveRequestMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":           "/api/cards/:id/move",
		"total_ms":        durationToMillis(time.Since(m.start)),
		"cards_reindexed": m.cardsReindexed,
		"cross_list":      m.crossList,
	}

	if m.guardDuration > 0 {
		fields["guard_ms"] = durationToMillis(m.guardDuration)
	}
	if m.reindexDuration > 0 {
		fields["reindex_ms"] = durationToMillis(m.reindexDuration)
	}
	if m.persistDuration > 0 {
		fields["persist_ms"] = durationToMillis(m.persistDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("cards.move.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
