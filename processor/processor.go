// Package processor verifies message proofs against a replica's confirmed root and executes
// each message on the replica at most once.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

const agentName = "processor"

// ErrInFlight is returned when the same message is already being processed.
var ErrInFlight = errors.New("message already in flight")

type Config struct {
	// Cooldown is the wait after a revert before the message is tried again.
	Cooldown time.Duration
	// MaxAttempts caps reverted executions of one message. Zero means no cap.
	MaxAttempts int
	// DeniedSenders are never executed; their messages stay pending.
	DeniedSenders []types.Hash
}

// Processor owns the status machine of every message on one replica.
type Processor struct {
	cfg      Config
	replica  chains.Replica
	pair     types.Pair
	registry *fraud.Registry
	store    *store.Store
	bus      events.Publisher
	policy   retry.Policy
	metrics  *Metrics
	logger   *log.Entry
	now      func() time.Time

	inflight sync.Map
	denied   map[types.Hash]struct{}
}

func New(cfg Config, replica chains.Replica, registry *fraud.Registry, st *store.Store,
	bus events.Publisher, policy retry.Policy, metrics *Metrics) *Processor {
	if metrics == nil {
		metrics = NopMetrics()
	}
	denied := make(map[types.Hash]struct{}, len(cfg.DeniedSenders))
	for _, s := range cfg.DeniedSenders {
		denied[s] = struct{}{}
	}
	return &Processor{
		cfg:      cfg,
		replica:  replica,
		pair:     types.Pair{Home: replica.RemoteDomain(), Replica: replica.Domain()},
		registry: registry,
		store:    st,
		bus:      bus,
		policy:   policy,
		metrics:  metrics,
		logger:   log.WithFields(log.Fields{"agent": agentName, "replica": replica.Name()}),
		now:      time.Now,
		denied:   denied,
	}
}

// SetClock replaces the wall clock used for cooldowns.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Processor) Pair() types.Pair {
	return p.pair
}

// Status returns the record of a message, pending if it was never seen.
func (p *Processor) Status(index uint32) (types.MessageRecord, error) {
	rec, ok, err := p.store.MessageRecord(p.pair.Replica, index)
	if err != nil {
		return types.MessageRecord{}, err
	}
	if !ok {
		rec = types.MessageRecord{Replica: p.pair.Replica, Index: index, Status: types.StatusPending}
	}
	return rec, nil
}

// Due reports whether the message should be handed to Process now.
func (p *Processor) Due(index uint32) (bool, error) {
	rec, err := p.Status(index)
	if err != nil {
		return false, err
	}
	return rec.Due(p.now(), p.cfg.MaxAttempts), nil
}

// Process verifies proof against confirmedRoot and executes the message unless the replica
// already processed it. A revert leaves the message failed until the cooldown elapses.
func (p *Processor) Process(ctx context.Context, proof types.Proof, confirmedRoot types.Hash) error {
	index := proof.Index()
	if p.registry.IsSet(p.pair) {
		p.metrics.Refused.Add(1)
		return errors.Wrapf(types.ErrFraudDetected, "pair %s halted, refusing message %d", p.pair, index)
	}
	if _, busy := p.inflight.LoadOrStore(index, struct{}{}); busy {
		return ErrInFlight
	}
	defer p.inflight.Delete(index)

	start := p.now()
	defer func() { p.metrics.ProcessSeconds.Observe(p.now().Sub(start).Seconds()) }()

	logger := p.logger.WithField("index", index)
	rec, err := p.Status(index)
	if err != nil {
		return err
	}
	if rec.Status == types.StatusProcessed {
		return nil
	}
	if _, deny := p.denied[proof.Message.Sender]; deny {
		logger.Debug("Sender ", proof.Message.Sender.Short(), " is denied, leaving message pending")
		return nil
	}
	if !rec.Due(p.now(), p.cfg.MaxAttempts) {
		return nil
	}

	if err := p.verify(proof, confirmedRoot); err != nil {
		p.metrics.ProofMismatches.Add(1)
		logger.Error("Rejecting message: ", err)
		p.publish(ctx, events.New(events.TypeProofMismatch).Index(index).Message("proof rejected").Err(err))
		return err
	}
	rec.Leaf = proof.Message.Leaf()
	if rec.Status != types.StatusProven {
		if err := p.transition(ctx, &rec, types.StatusProven); err != nil {
			return err
		}
	}

	var processed bool
	err = retry.Do(ctx, p.policy, func(ctx context.Context) (err error) {
		processed, err = p.replica.IsMessageProcessed(ctx, index)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "processed check for message %d", index)
	}
	if processed {
		logger.Info("Message already processed on replica")
		return p.transition(ctx, &rec, types.StatusProcessed)
	}

	if p.registry.IsSet(p.pair) {
		p.metrics.Refused.Add(1)
		return errors.Wrapf(types.ErrFraudDetected, "pair %s halted, refusing message %d", p.pair, index)
	}
	var outcome chains.TxOutcome
	err = retry.Do(ctx, p.policy, func(ctx context.Context) (err error) {
		p.metrics.Submissions.Add(1)
		outcome, err = p.replica.SubmitExecution(ctx, proof)
		return err
	})
	if reverted, ok := types.IsReverted(err); ok {
		return p.fail(ctx, &rec, reverted)
	}
	switch {
	case errors.Is(err, types.ErrStale):
		logger.Info("Replica reports message already processed")
	case err != nil:
		return errors.Wrapf(err, "execute message %d", index)
	default:
		tx := outcome.TxHash
		rec.TxHash = &tx
		logger.Info("Message processed, tx ", tx.Short())
	}
	p.metrics.Processed.Add(1)
	return p.transition(ctx, &rec, types.StatusProcessed)
}

func (p *Processor) verify(proof types.Proof, root types.Hash) error {
	msg := proof.Message
	if msg.Origin != p.pair.Home || msg.Destination != p.pair.Replica {
		return errors.Wrapf(types.ErrProofMismatch, "message %d routes %d->%d, processor serves %s", msg.Index, msg.Origin, msg.Destination, p.pair)
	}
	return merkle.Verify(proof, root)
}

func (p *Processor) fail(ctx context.Context, rec *types.MessageRecord, reverted *types.ExecutionRevertedError) error {
	p.metrics.Reverted.Add(1)
	rec.Attempts++
	rec.Reason = reverted.Reason
	rec.NextAttempt = p.now().Add(p.cfg.Cooldown)
	if err := p.transition(ctx, rec, types.StatusFailed); err != nil {
		return err
	}
	p.logger.WithField("index", rec.Index).Warn("Execution reverted (attempt ", rec.Attempts, "): ", reverted.Reason)
	p.publish(ctx, events.New(events.TypeExecutionReverted).
		Index(rec.Index).
		Message("execution reverted, retry after %s", rec.NextAttempt.Format(time.RFC3339)).
		Err(reverted))
	if p.cfg.MaxAttempts > 0 && rec.Attempts >= p.cfg.MaxAttempts {
		p.publish(ctx, events.New(events.TypeExecutionAbandoned).
			Index(rec.Index).
			Message("giving up after %d reverted executions", rec.Attempts).
			Err(reverted))
	}
	return reverted
}

func (p *Processor) transition(ctx context.Context, rec *types.MessageRecord, to types.MessageStatus) error {
	from := rec.Status
	if err := rec.Transition(to, p.now()); err != nil {
		return err
	}
	if err := p.store.SaveMessageRecord(*rec); err != nil {
		return errors.Wrap(err, "persist message status")
	}
	p.publish(ctx, events.New(events.TypeMessageStatus).
		Index(rec.Index).
		Message("%s -> %s", from, to).
		With("status", to.String()))
	return nil
}

func (p *Processor) publish(ctx context.Context, b *events.Builder) {
	if err := p.bus.Publish(ctx, b.Agent(agentName).Pair(p.pair).Build()); err != nil {
		p.logger.Warn("Unable to publish event: ", err)
	}
}
