// Package monitor forwards bus events to operators outside the process.
package monitor

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/logging"
)

const (
	subscriber      = "monitor"
	monitorCapacity = 1000
)

// Sink receives events. Send must not block for long.
type Sink interface {
	Send(ev events.Event) error
	Close() error
}

// Monitor subscribes to the bus and hands every matching event to its sinks.
type Monitor struct {
	service.BaseService

	bus    *events.Bus
	query  string
	sinks  []Sink
	logger *log.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a monitor forwarding events matching query, every event when query is empty.
func New(bus *events.Bus, query string, sinks ...Sink) *Monitor {
	m := &Monitor{
		bus:    bus,
		query:  query,
		sinks:  sinks,
		logger: log.WithField("module", "monitor"),
	}
	m.BaseService = *service.NewBaseService(logging.NewTMLogger(m.logger), "Monitor", m)
	return m
}

func (m *Monitor) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := m.bus.Subscribe(ctx, subscriber, m.query, monitorCapacity)
	if err != nil {
		cancel()
		return err
	}
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		if err := events.Drain(ctx, sub, m.forward); err != nil {
			m.logger.Warn("Event subscription ended: ", err)
		}
	}()
	return nil
}

func (m *Monitor) OnStop() {
	m.cancel()
	<-m.done
	if m.bus.IsRunning() {
		if err := m.bus.Unsubscribe(context.Background(), subscriber); err != nil {
			m.logger.Debug("Unsubscribe: ", err)
		}
	}
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.Warn("Unable to close sink: ", err)
		}
	}
}

func (m *Monitor) forward(ev events.Event) {
	for _, s := range m.sinks {
		if err := s.Send(ev); err != nil {
			m.logger.Warn("Sink rejected event ", ev.ID, ": ", err)
		}
	}
}
