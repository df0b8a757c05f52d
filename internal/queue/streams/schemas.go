package streams

import "fmt"

const (
	// StreamJobEnqueued carries newly submitted research jobs to workers.
	StreamJobEnqueued = "job.enqueued"

	// EventJobEnqueued is the event type published for a submitted job.
	EventJobEnqueued = "job.enqueued"
	// PayloadVersionV1 is the only payload version in use.
	PayloadVersionV1 = "v1"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventJobEnqueued,
		Version:   PayloadVersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "topic"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "topic": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
}

// RegisterBaseSchemas loads every built-in schema into the registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s/%s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// JobEnqueuedPayload is the payload carried by job.enqueued events.
type JobEnqueuedPayload struct {
	JobID string `json:"job_id"`
	Topic string `json:"topic"`
}
