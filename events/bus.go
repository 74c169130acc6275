package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	tmlog "github.com/tendermint/tendermint/libs/log"
	tmpubsub "github.com/tendermint/tendermint/libs/pubsub"
	tmquery "github.com/tendermint/tendermint/libs/pubsub/query"
	"github.com/tendermint/tendermint/libs/service"
)

const defaultCapacity = 100

// Publisher is the narrow side of the bus agents depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to subscribers and remembers recent alarms.
type Bus struct {
	service.BaseService

	pubsub   *tmpubsub.Server
	recorder *Recorder
}

func NewBus(logger tmlog.Logger, recent int) *Bus {
	pubsub := tmpubsub.NewServer(tmpubsub.BufferCapacity(defaultCapacity))
	pubsub.SetLogger(logger.With("module", "pubsub"))
	b := &Bus{
		pubsub:   pubsub,
		recorder: NewRecorder(recent),
	}
	b.BaseService = *service.NewBaseService(logger, "EventBus", b)
	return b
}

func (b *Bus) OnStart() error {
	return b.pubsub.Start()
}

func (b *Bus) OnStop() {
	if err := b.pubsub.Stop(); err != nil {
		b.Logger.Error("failed to stop pubsub server", "err", err)
	}
}

// Publish stamps ev and delivers it. Events are always recorded, even when the bus is not running.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityOf(ev.Type)
	}
	b.recorder.Record(ev)

	if !b.IsRunning() {
		return nil
	}
	tags := map[string][]string{
		TypeKey:     {ev.Type},
		SeverityKey: {string(ev.Severity)},
		PairKey:     {ev.Pair().String()},
		AlarmKey:    {strconv.FormatBool(ev.IsAlarm())},
	}
	return errors.Wrap(b.pubsub.PublishWithEvents(ctx, ev, tags), "publish event")
}

// Subscribe returns a subscription to events matching q. An empty q matches every event.
func (b *Bus) Subscribe(ctx context.Context, subscriber, q string, capacity int) (*tmpubsub.Subscription, error) {
	var query tmpubsub.Query = tmquery.Empty{}
	if q != "" {
		parsed, err := tmquery.New(q)
		if err != nil {
			return nil, errors.Wrapf(err, "parse query %q", q)
		}
		query = parsed
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return b.pubsub.Subscribe(ctx, subscriber, query, capacity)
}

func (b *Bus) Unsubscribe(ctx context.Context, subscriber string) error {
	return b.pubsub.UnsubscribeAll(ctx, subscriber)
}

func (b *Bus) Recorder() *Recorder {
	return b.recorder
}

// Drain calls fn for every event on sub until ctx is done or the subscription is cancelled.
func Drain(ctx context.Context, sub *tmpubsub.Subscription, fn func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Cancelled():
			return sub.Err()
		case msg := <-sub.Out():
			if ev, ok := msg.Data().(Event); ok {
				fn(ev)
			}
		}
	}
}

// AlarmQuery matches events operators need to look at.
func AlarmQuery() string {
	return AlarmKey + " = 'true'"
}
