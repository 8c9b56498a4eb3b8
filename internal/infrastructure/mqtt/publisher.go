package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// publisher is the subset of Client used by Publisher.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// eventPayload is the JSON body of a migration event message.
type eventPayload struct {
	RunID      string `json:"run_id"`
	Database   string `json:"database"`
	Table      string `json:"table"`
	Direction  string `json:"direction"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// resultPayload is the retained JSON body describing the last run.
type resultPayload struct {
	RunID      string   `json:"run_id"`
	Database   string   `json:"database"`
	Version    int      `json:"version"`
	Reapplied  string   `json:"reapplied,omitempty"`
	Applied    []string `json:"applied"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
}

// Publisher announces migration steps on MQTT. It implements
// migration.Observer; publish failures are logged and never fail a run.
type Publisher struct {
	pub      publisher
	topics   Topics
	database string
	qos      byte
	logger   Logger
}

// NewPublisher returns a Publisher for the named database using client's
// topic prefix and QoS.
func NewPublisher(client *Client, database string, logger Logger) *Publisher {
	return newPublisher(client, client.Topics(), database, client.QoS(), logger)
}

func newPublisher(pub publisher, topics Topics, database string, qos byte, logger Logger) *Publisher {
	return &Publisher{
		pub:      pub,
		topics:   topics,
		database: database,
		qos:      qos,
		logger:   logger,
	}
}

// MigrationApplied publishes one event per committed step.
func (p *Publisher) MigrationApplied(_ context.Context, event migration.Event) {
	payload, err := json.Marshal(eventPayload{
		RunID:      event.RunID,
		Database:   p.database,
		Table:      event.Table,
		Direction:  string(event.Direction),
		Index:      event.Index,
		Name:       event.Name,
		DurationMS: event.Duration.Milliseconds(),
		Timestamp:  event.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		p.warn("encoding migration event", err)
		return
	}

	if err := p.pub.Publish(p.topics.MigrationEvent(p.database), payload, p.qos, false); err != nil {
		p.warn("publishing migration event", err)
	}
}

// PublishResult publishes the outcome of a run on the retained status
// topic. runErr may be nil; result may be nil when the run failed before
// any step.
func (p *Publisher) PublishResult(result *migration.Result, runErr error) error {
	body := resultPayload{Database: p.database, Applied: []string{}}
	if result != nil {
		body.RunID = result.RunID
		body.Version = result.Version
		body.Reapplied = result.Reapplied
		if result.Applied != nil {
			body.Applied = result.Applied
		}
		body.StartedAt = result.StartedAt.UTC().Format(time.RFC3339Nano)
		body.FinishedAt = result.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if runErr != nil {
		body.Error = runErr.Error()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding migration result: %w", err)
	}
	return p.pub.Publish(p.topics.MigrationStatus(p.database), payload, p.qos, true)
}

func (p *Publisher) warn(msg string, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, "database", p.database, "error", err)
	}
}
