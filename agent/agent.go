// Package agent runs a poll loop as a tendermint service.
package agent

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tendermint/tendermint/libs/service"

	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/logging"
)

// DefaultShutdownGrace is how long Stop waits for an in-flight tick before cancelling it.
const DefaultShutdownGrace = 30 * time.Second

// TickFunc does one poll cycle.
type TickFunc func(ctx context.Context) error

// Service calls a TickFunc every interval until stopped or until the tick returns
// an error Fatal classifies as fatal.
type Service struct {
	service.BaseService

	Interval      time.Duration
	ShutdownGrace time.Duration
	// Fatal decides which tick errors stop the loop. Nil means none do.
	Fatal func(error) bool

	tick   TickFunc
	entry  *log.Entry
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}
	failed chan struct{}

	mtx tmsync.Mutex
	err error
}

func NewService(name string, interval time.Duration, tick TickFunc, entry *log.Entry) *Service {
	s := &Service{
		Interval:      interval,
		ShutdownGrace: DefaultShutdownGrace,
		tick:          tick,
		entry:         entry,
		failed:        make(chan struct{}),
	}
	s.BaseService = *service.NewBaseService(logging.NewTMLogger(entry), name, s)
	return s
}

func (s *Service) OnStart() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	return nil
}

// OnStop lets the current tick finish, cancelling it after ShutdownGrace.
func (s *Service) OnStop() {
	close(s.stopCh)
	select {
	case <-s.done:
	case <-time.After(s.ShutdownGrace):
		s.entry.Warn("Tick still running after shutdown grace, cancelling")
		s.cancel()
		<-s.done
	}
	s.cancel()
}

// Failed is closed when the loop stopped on a fatal error.
func (s *Service) Failed() <-chan struct{} {
	return s.failed
}

func (s *Service) Err() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.err
}

func (s *Service) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.entry.Info("Poll loop started, interval ", s.Interval)
	for {
		if err := s.tick(s.ctx); err != nil {
			if s.Fatal != nil && s.Fatal(err) {
				s.entry.Error("Fatal error, stopping: ", err)
				s.mtx.Lock()
				s.err = err
				s.mtx.Unlock()
				close(s.failed)
				return
			}
			s.entry.Warn("Poll cycle failed, retrying next interval: ", err)
		}

		select {
		case <-s.stopCh:
			s.entry.Info("Poll loop stopped")
			return
		case <-ticker.C:
		}
	}
}
