package events

import (
	"context"
	"encoding/json"

	"github.com/banshee-data/junction/internal/monitoring"
)

// LogSink writes events to the diagnostic log. It is used when no broker is
// configured.
type LogSink struct {
	logf monitoring.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logf: monitoring.Tagged("events")}
}

func (s *LogSink) Publish(_ context.Context, e Envelope) error {
	data, err := json.Marshal(summary(e))
	if err != nil {
		return err
	}
	s.logf("%s %s", e.Kind, data)
	return nil
}

func (s *LogSink) Close() error { return nil }

// summary drops bulky fields such as snapshots from log lines.
func summary(e Envelope) Envelope {
	if s, ok := e.Data.(interface{ Summary() any }); ok {
		e.Data = s.Summary()
	}
	return e
}
