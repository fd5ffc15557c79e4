package metrics

// Assistant request outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeReplied     = "replied"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

func (m *Metrics) IncrementCardCreated() {
	m.safeExecute("IncrementCardCreated", func() {
		m.CardsCreatedTotal.Inc()
	})
}

func (m *Metrics) IncrementCardMoved() {
	m.safeExecute("IncrementCardMoved", func() {
		m.CardsMovedTotal.Inc()
	})
}

func (m *Metrics) IncrementCardDeleted() {
	m.safeExecute("IncrementCardDeleted", func() {
		m.CardsDeletedTotal.Inc()
	})
}

func (m *Metrics) IncrementColumnRenamed() {
	m.safeExecute("IncrementColumnRenamed", func() {
		m.ColumnsRenamedTotal.Inc()
	})
}

// RecordAssistantRequest counts one chat request by outcome.
func (m *Metrics) RecordAssistantRequest(outcome string) {
	m.safeExecute("RecordAssistantRequest", func() {
		m.AssistantRequestsTotal.WithLabelValues(outcome).Inc()
	})
}
