package monitor

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	proto "github.com/golang/protobuf/proto"
	pool "github.com/libp2p/go-buffer-pool"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/supragya/NomadConnector/events"
)

// frameHeader is the little endian length prefix in front of every frame.
const frameHeader = 2

// EventStruct converts ev into the protobuf Struct sent on the wire.
func EventStruct(ev events.Event) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":       ev.ID,
		"type":     ev.Type,
		"severity": string(ev.Severity),
		"time":     ev.Time.UTC().Format(time.RFC3339Nano),
		"agent":    ev.Agent,
		"home":     float64(ev.Home),
		"replica":  float64(ev.Replica),
		"message":  ev.Message,
	}
	if ev.Index != nil {
		fields["index"] = float64(*ev.Index)
	}
	if ev.Error != "" {
		fields["error"] = ev.Error
	}
	if len(ev.Data) > 0 {
		data := make(map[string]interface{}, len(ev.Data))
		for k, v := range ev.Data {
			data[k] = v
		}
		fields["data"] = data
	}
	return structpb.NewStruct(fields)
}

// WriteFrame writes st prefixed with its length.
func WriteFrame(w io.Writer, st *structpb.Struct) error {
	payload, err := proto.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	if len(payload) > math.MaxUint16 {
		return errors.Errorf("frame of %d bytes exceeds the %d byte limit", len(payload), math.MaxUint16)
	}
	buf := pool.Get(frameHeader + len(payload))
	defer pool.Put(buf)
	binary.LittleEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[frameHeader:], payload)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (*structpb.Struct, error) {
	var header [frameHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(header[:]))
	buf := pool.Get(n)
	defer pool.Put(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(err, "read frame of %d bytes", n)
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(buf, st); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	return st, nil
}
