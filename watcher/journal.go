package watcher

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

type discardJournaler struct{}

// DiscardJournaler is a Journaler that drops every event.
var DiscardJournaler Journaler = discardJournaler{}

func (discardJournaler) Write(Event) error { return nil }
