package monitor

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/events"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
)

// LogfmtSink appends one logfmt line per event.
type LogfmtSink struct {
	mtx    tmsync.Mutex
	enc    *logfmt.Encoder
	closer io.Closer
}

func NewLogfmtSink(w io.Writer) *LogfmtSink {
	return &LogfmtSink{enc: logfmt.NewEncoder(w)}
}

// OpenLogfmtSink appends to path, or writes to stdout when path is "-".
func OpenLogfmtSink(path string) (*LogfmtSink, error) {
	if path == "-" {
		return NewLogfmtSink(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open alarm log")
	}
	s := NewLogfmtSink(f)
	s.closer = f
	return s, nil
}

func (s *LogfmtSink) Send(ev events.Event) error {
	keyvals := []interface{}{
		"ts", ev.Time.UTC().Format(time.RFC3339Nano),
		"severity", string(ev.Severity),
		"type", ev.Type,
		"pair", ev.Pair().String(),
	}
	if ev.Agent != "" {
		keyvals = append(keyvals, "agent", ev.Agent)
	}
	if ev.Index != nil {
		keyvals = append(keyvals, "index", *ev.Index)
	}
	keyvals = append(keyvals, "msg", ev.Message)
	if ev.Error != "" {
		keyvals = append(keyvals, "err", ev.Error)
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, ev.Data[k])
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.enc.EncodeKeyvals(keyvals...); err != nil {
		return err
	}
	return s.enc.EndRecord()
}

func (s *LogfmtSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
