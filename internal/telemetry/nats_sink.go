package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is the JSON document published for every job event.
type Event struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	Update Update    `json:"update"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventFinished = "finished"
)

// NATSSink publishes job events as JSON on <prefix>.job.<type>. Publishing
// is fire-and-forget; a disconnected client buffers or drops events.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewNATSSink(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSSink {
	return &NATSSink{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Subject returns the subject events of the given type are published on.
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + ".job." + eventType
}

func (s *NATSSink) JobStarted(u Update) {
	s.publish(Event{Type: EventStarted, Update: u})
}

func (s *NATSSink) JobProgress(u Update) {
	s.publish(Event{Type: EventProgress, Update: u})
}

func (s *NATSSink) JobFinished(u Update, err error) {
	ev := Event{Type: EventFinished, Update: u}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publish(ev)
}

func (s *NATSSink) publish(ev Event) {
	ev.Time = s.now()
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to encode telemetry event", zap.Error(err))
		return
	}
	if err := s.nc.Publish(s.Subject(ev.Type), data); err != nil {
		s.logger.Debug("failed to publish telemetry event",
			zap.String("type", ev.Type),
			zap.String("job_id", ev.Update.JobID),
			zap.Error(err),
		)
	}
}
