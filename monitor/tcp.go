package monitor

import (
	"bufio"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/events"
)

const (
	tcpQueueSize = 1000
	dialTimeout  = 5 * time.Second
)

// TCPSink streams events as frames to a collector, redialling whenever the connection breaks.
type TCPSink struct {
	addr           string
	reconnectDelay time.Duration
	queue          chan events.Event
	quit           chan struct{}
	done           chan struct{}
	logger         *log.Entry
}

func NewTCPSink(addr string, reconnectDelay time.Duration) *TCPSink {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	s := &TCPSink{
		addr:           addr,
		reconnectDelay: reconnectDelay,
		queue:          make(chan events.Event, tcpQueueSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		logger:         log.WithFields(log.Fields{"module": "monitor", "collector": addr}),
	}
	go s.sendRoutine()
	return s
}

// Send queues ev. It never blocks; a full queue drops the event.
func (s *TCPSink) Send(ev events.Event) error {
	select {
	case s.queue <- ev:
		return nil
	default:
		return errors.Errorf("collector queue full, dropping %s event", ev.Type)
	}
}

func (s *TCPSink) Close() error {
	close(s.quit)
	<-s.done
	return nil
}

func (s *TCPSink) sendRoutine() {
	defer close(s.done)
	s.logger.Info("monitor -> collector routine started")

	var (
		conn net.Conn
		w    *bufio.Writer
	)
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var ev events.Event
		select {
		case <-s.quit:
			return
		case ev = <-s.queue:
		}
		st, err := EventStruct(ev)
		if err != nil {
			s.logger.Error("Unable to encode event ", ev.ID, ": ", err)
			continue
		}
		for {
			if conn == nil {
				conn, err = net.DialTimeout("tcp", s.addr, dialTimeout)
				if err != nil {
					conn = nil
					s.logger.Warn("Unable to reach collector, retrying in ", s.reconnectDelay, ": ", err)
					select {
					case <-s.quit:
						return
					case <-time.After(s.reconnectDelay):
					}
					continue
				}
				w = bufio.NewWriter(conn)
				s.logger.Info("Connected to collector")
			}
			if err = WriteFrame(w, st); err == nil {
				err = w.Flush()
			}
			if err == nil {
				break
			}
			s.logger.Error("Error writing to collector: ", err)
			conn.Close()
			conn = nil
		}
	}
}
