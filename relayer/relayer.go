// Package relayer moves home commitments to one replica and hands confirmed messages to the
// processor.
package relayer

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/agent"
	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/outbox"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

const (
	agentName = "relayer"

	// maxRelaysPerTick bounds how many chained commitments one tick relays.
	maxRelaysPerTick = 16
	signerCacheSize  = 500
)

// Processor executes proven messages on the replica.
type Processor interface {
	Pair() types.Pair
	Status(index uint32) (types.MessageRecord, error)
	Due(index uint32) (bool, error)
	Process(ctx context.Context, proof types.Proof, confirmedRoot types.Hash) error
}

type Config struct {
	Interval time.Duration
	// TrustedUpdater is the only key whose commitments are relayed.
	TrustedUpdater types.Address
	// Optimistic is the local confirmation window, enforced on top of the replica's own.
	Optimistic time.Duration
	// SkipCommitments leaves commitment relay to another node; only messages are proven.
	SkipCommitments bool
	// SkipMessages relays commitments without handing messages to the processor.
	SkipMessages bool
}

type Relayer struct {
	*agent.Service

	cfg       Config
	home      chains.Home
	replica   chains.Replica
	pair      types.Pair
	history   *outbox.History
	processor Processor
	registry  *fraud.Registry
	bus       events.Publisher
	policy    retry.Policy
	metrics   *Metrics
	logger    *log.Entry
	now       func() time.Time

	signers *lru.TwoQueueCache
	// mismatched is the last refused root an alarm was raised for.
	mismatched types.Hash

	mtx   tmsync.Mutex
	state *ReplicaState
}

func New(cfg Config, home chains.Home, replica chains.Replica, processor Processor, registry *fraud.Registry,
	bus events.Publisher, policy retry.Policy, metrics *Metrics) (*Relayer, error) {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if replica.RemoteDomain() != home.Domain() {
		return nil, errors.Errorf("replica %s follows domain %d, not home %s (%d)",
			replica.Name(), replica.RemoteDomain(), home.Name(), home.Domain())
	}
	cache, err := lru.New2Q(signerCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Relayer{
		cfg:       cfg,
		home:      home,
		replica:   replica,
		pair:      types.Pair{Home: home.Domain(), Replica: replica.Domain()},
		history:   outbox.NewHistory(home, policy),
		processor: processor,
		registry:  registry,
		bus:       bus,
		policy:    policy,
		metrics:   metrics,
		logger:    log.WithFields(log.Fields{"agent": agentName, "home": home.Name(), "replica": replica.Name()}),
		now:       time.Now,
		signers:   cache,
		state:     newReplicaState(),
	}
	r.Service = agent.NewService(agentName+"-"+replica.Name(), cfg.Interval, r.Tick, r.logger)
	return r, nil
}

// SetClock replaces the wall clock used for the local optimistic window.
func (r *Relayer) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Relayer) Pair() types.Pair {
	return r.pair
}

// State returns a copy of what the relayer knows about its replica.
func (r *Relayer) State() ReplicaState {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.state.snapshot()
}

// Tick relays pending commitments and then every confirmed message that is due.
func (r *Relayer) Tick(ctx context.Context) error {
	if r.refuse() {
		return nil
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, err := r.history.Sync(ctx); err != nil {
		return err
	}
	if !r.cfg.SkipCommitments {
		if err := r.relayCommitments(ctx); err != nil {
			if types.IsTransient(err) {
				return err
			}
			r.logger.Error("Commitment relay failed: ", err)
		}
	}
	if r.cfg.SkipMessages {
		return nil
	}
	return r.relayMessages(ctx)
}

func (r *Relayer) refuse() bool {
	if !r.registry.IsSet(r.pair) {
		return false
	}
	r.metrics.Refused.Add(1)
	rec, _ := r.registry.Record(r.pair)
	r.logger.Debug("Pair halted by fraud flag (", rec.Kind, "), refusing to relay")
	return true
}

func (r *Relayer) relayCommitments(ctx context.Context) error {
	for i := 0; i < maxRelaysPerTick; i++ {
		var committed types.Hash
		err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
			committed, err = r.replica.CommittedRoot(ctx)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "replica committed root")
		}
		r.state.CommittedRoot = committed
		r.state.observe(committed, r.now())

		var next *types.SignedCommitment
		err = retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
			next, err = r.home.CommitmentByPreviousRoot(ctx, committed)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "home commitment over %s", committed.Short())
		}
		if next == nil {
			return nil
		}
		if err := r.checkSigner(*next); err != nil {
			mismatch, ok := types.IsSignerMismatch(err)
			if !ok {
				return err
			}
			r.metrics.SignerMismatches.Add(1)
			if r.mismatched == next.Root {
				r.logger.WithField("index", next.Index).Debug("Still refusing commitment ", next.Root.Short())
				return nil
			}
			r.mismatched = next.Root
			r.logger.WithField("index", next.Index).Warn("Refusing commitment ", next.Root.Short(), ": ", mismatch)
			r.publish(ctx, events.New(events.TypeSignerMismatch).
				Index(next.Index).
				Message("commitment %s not signed by trusted updater", next.Root.Short()).
				Err(mismatch).
				With("signer", mismatch.Actual.Hex()))
			return nil
		}
		// the flag may have been raised while this tick was reading
		if r.registry.IsSet(r.pair) {
			r.metrics.Refused.Add(1)
			return errors.Wrapf(types.ErrFraudDetected, "pair %s halted", r.pair)
		}

		var outcome chains.TxOutcome
		err = retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
			outcome, err = r.replica.SubmitCommitment(ctx, *next)
			return err
		})
		switch {
		case errors.Is(err, types.ErrStale):
			r.logger.Debug("Commitment ", next.Root.Short(), " already on replica")
		case err != nil:
			return errors.Wrapf(err, "relay %s", next.Commitment)
		default:
			r.metrics.Relayed.Add(1)
			r.logger.WithField("index", next.Index).Info("Relayed commitment ", next.Root.Short(), " tx ", outcome.TxHash.Short())
			r.publish(ctx, events.New(events.TypeCommitmentSubmitted).
				Index(next.Index).
				Message("commitment %d relayed to replica", next.Index).
				With("root", next.Root.Hex()).
				With("tx_hash", outcome.TxHash.Hex()))
		}
		r.state.observe(next.Root, r.now())
	}
	return nil
}

// checkSigner recovers the commitment signer, caching by signature, and compares it with the
// trusted updater.
func (r *Relayer) checkSigner(sc types.SignedCommitment) error {
	digest := sc.SigningHash()
	key := string(append(digest.Bytes(), sc.Signature[:]...))
	var actual types.Address
	if v, ok := r.signers.Get(key); ok {
		actual = v.(types.Address)
	} else {
		addr, err := signer.RecoverCommitment(sc)
		if err != nil {
			return errors.Wrapf(err, "recover signer of %s", sc.Commitment)
		}
		r.signers.Add(key, addr)
		actual = addr
	}
	if actual != r.cfg.TrustedUpdater {
		return &types.SignerMismatchError{Expected: r.cfg.TrustedUpdater, Actual: actual}
	}
	return nil
}

func (r *Relayer) relayMessages(ctx context.Context) error {
	var confirmed types.Hash
	err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
		confirmed, err = r.replica.ConfirmedRoot(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "replica confirmed root")
	}
	if confirmed.IsZero() {
		return nil
	}
	confirmedIndex, ok := r.history.IndexOf(confirmed)
	if !ok {
		return errors.Errorf("replica confirmed root %s is not in the local outbox history", confirmed.Short())
	}
	if !r.state.windowElapsed(confirmed, r.now(), r.cfg.Optimistic) {
		r.logger.Debug("Root ", confirmed.Short(), " confirmed on chain, local window still open")
		return nil
	}
	if r.state.confirm(confirmed, confirmedIndex) {
		r.metrics.ConfirmedIndex.Set(float64(confirmedIndex))
		r.publish(ctx, events.New(events.TypeCommitmentConfirmed).
			Index(confirmedIndex).
			Message("root %s confirmed", confirmed.Short()).
			With("root", confirmed.Hex()))
	}

	// A message stuck on transient errors is retried next tick without holding back later ones.
	var transient error
	advancing := true
	for index := r.state.Settled; index <= confirmedIndex; index++ {
		settled, err := r.relayMessage(ctx, index, confirmedIndex, confirmed)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrFraudDetected) || ctx.Err() != nil:
			return err
		case types.IsTransient(err):
			r.logger.WithField("index", index).Warn("Message deferred: ", err)
			if transient == nil {
				transient = err
			}
		default:
			r.logger.WithField("index", index).Warn("Message not processed: ", err)
		}
		if settled && advancing {
			r.state.Settled = index + 1
		} else {
			advancing = false
		}
	}
	return transient
}

// relayMessage proves one message against the confirmed root if it is due on this replica. It
// reports whether the message needs no further work here.
func (r *Relayer) relayMessage(ctx context.Context, index, confirmedIndex uint32, confirmed types.Hash) (bool, error) {
	msg, ok := r.history.Message(index)
	if !ok {
		return false, errors.Errorf("message %d not synced", index)
	}
	if msg.Destination != r.pair.Replica {
		return true, nil
	}
	rec, err := r.processor.Status(index)
	if err != nil {
		return false, err
	}
	if rec.Status == types.StatusProcessed {
		return true, nil
	}
	due, err := r.processor.Due(index)
	if err != nil || !due {
		return false, err
	}
	proof, err := r.history.Prove(index, confirmedIndex)
	if err != nil {
		return false, err
	}
	r.metrics.HandedOff.Add(1)
	if err := r.processor.Process(ctx, proof, confirmed); err != nil {
		return false, err
	}
	rec, err = r.processor.Status(index)
	if err != nil {
		return false, err
	}
	return rec.Status == types.StatusProcessed, nil
}

func (r *Relayer) publish(ctx context.Context, b *events.Builder) {
	if err := r.bus.Publish(ctx, b.Agent(agentName).Pair(r.pair).Build()); err != nil {
		r.logger.Warn("Unable to publish event: ", err)
	}
}
