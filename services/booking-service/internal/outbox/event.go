package outbox

import "time"

// Event is the domain event envelope written to the outbox.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	AgentID       string
	EventType     string
	Payload       []byte
}

// Record is a stored Event awaiting or past publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	AgentID       string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
