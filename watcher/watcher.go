// Package watcher audits every commitment the home updater produced, on the home and on each
// replica, against an independently derived outbox, and halts the bridge on fraud.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/supragya/NomadConnector/agent"
	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/outbox"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

const agentName = "watcher"

type Config struct {
	Interval time.Duration
	// SubmitFraudProofs sends double update evidence to the home and every replica.
	SubmitFraudProofs bool
	// Unenroll asks every connection manager to unenroll the replicas of the home.
	Unenroll bool
}

// Watcher never authors commitments. Attestation may be nil when Unenroll is off.
type Watcher struct {
	*agent.Service

	cfg         Config
	home        chains.Home
	replicas    []chains.Replica
	managers    []chains.ConnectionManager
	attestation signer.Signer
	registry    *fraud.Registry
	store       *store.Store
	history     *outbox.History
	bus         events.Publisher
	policy      retry.Policy
	metrics     *Metrics
	logger      *log.Entry
}

type source struct {
	name   string
	domain uint32
	log    func(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error)
}

type observed struct {
	source source
	sc     types.SignedCommitment
}

// finding is one proven piece of misbehaviour.
type finding struct {
	kind     types.FraudKind
	reason   string
	evidence *types.DoubleUpdate
	observed types.Commitment
	source   string
}

func New(cfg Config, home chains.Home, replicas []chains.Replica, managers []chains.ConnectionManager,
	attestation signer.Signer, registry *fraud.Registry, st *store.Store, bus events.Publisher,
	policy retry.Policy, metrics *Metrics) *Watcher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	w := &Watcher{
		cfg:         cfg,
		home:        home,
		replicas:    replicas,
		managers:    managers,
		attestation: attestation,
		registry:    registry,
		store:       st,
		history:     outbox.NewHistory(home, policy),
		bus:         bus,
		policy:      policy,
		metrics:     metrics,
		logger:      log.WithFields(log.Fields{"agent": agentName, "home": home.Name()}),
	}
	w.Service = agent.NewService(agentName, cfg.Interval, w.Tick, w.logger)
	return w
}

// Pairs lists the home to replica channels this watcher guards.
func (w *Watcher) Pairs() []types.Pair {
	pairs := make([]types.Pair, 0, len(w.replicas))
	for _, r := range w.replicas {
		pairs = append(pairs, types.Pair{Home: w.home.Domain(), Replica: r.Domain()})
	}
	return pairs
}

func (w *Watcher) sources() []source {
	out := []source{{name: w.home.Name(), domain: w.home.Domain(), log: w.home.Commitments}}
	for _, r := range w.replicas {
		out = append(out, source{name: r.Name(), domain: r.Domain(), log: r.Commitments})
	}
	return out
}

// Tick audits commitments that appeared since the previous tick.
func (w *Watcher) Tick(ctx context.Context) error {
	var updater types.Address
	err := retry.Do(ctx, w.policy, func(ctx context.Context) (err error) {
		updater, err = w.home.Updater(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "home updater")
	}

	srcs := w.sources()
	batches := make([][]types.SignedCommitment, len(srcs))
	cursors := make([]uint64, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			from, err := w.store.Cursor(w.cursorName(src))
			if err != nil {
				return err
			}
			return retry.Do(gctx, w.policy, func(ctx context.Context) (err error) {
				batches[i], cursors[i], err = src.log(ctx, from)
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "fetch commitment logs")
	}

	// Commitments are read before the outbox so every honest root is already in history.
	if _, err := w.history.Sync(ctx); err != nil {
		return err
	}
	w.metrics.OutboxLength.Set(float64(w.history.Count()))

	for i, src := range srcs {
		for _, sc := range batches[i] {
			f, err := w.audit(ctx, observed{source: src, sc: sc}, updater)
			if err != nil {
				return err
			}
			if f != nil {
				w.raise(ctx, *f, updater)
			}
		}
		if err := w.store.SaveCursor(w.cursorName(src), cursors[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) cursorName(src source) string {
	return fmt.Sprintf("watcher/%d/%d", w.home.Domain(), src.domain)
}

func (w *Watcher) audit(ctx context.Context, o observed, updater types.Address) (*finding, error) {
	sc := o.sc
	w.metrics.Audited.With("chain", o.source.name).Add(1)
	logger := w.logger.WithFields(log.Fields{"chain": o.source.name, "index": sc.Index})

	if sc.HomeDomain != w.home.Domain() {
		logger.Warn("Ignoring commitment for foreign home ", sc.HomeDomain)
		return nil, nil
	}
	if err := signer.CheckCommitment(sc, updater); err != nil {
		w.metrics.SignerMismatches.Add(1)
		logger.Warn("Commitment not signed by the home updater: ", err)
		w.publish(ctx, events.New(events.TypeSignerMismatch).
			Index(sc.Index).
			Message("commitment on %s not signed by the home updater", o.source.name).
			Err(err))
		return nil, nil
	}

	f, err := w.check(o)
	if err != nil {
		return nil, err
	}
	if err := w.store.SaveObserved(w.home.Domain(), sc); err != nil {
		return nil, errors.Wrap(err, "persist observed commitment")
	}
	if f == nil {
		logger.Debug("Commitment ", sc.Root.Short(), " verified")
	}
	return f, nil
}

// check compares sc with previously observed commitments and with the local outbox.
func (w *Watcher) check(o observed) (*finding, error) {
	sc := o.sc
	home := w.home.Domain()

	prior, err := w.store.ObservedByPrevious(home, sc.PreviousRoot)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Root != sc.Root {
		return &finding{
			kind:     types.FraudDoubleUpdate,
			reason:   fmt.Sprintf("two roots over %s: %s and %s", sc.PreviousRoot.Short(), prior.Root.Short(), sc.Root.Short()),
			evidence: &types.DoubleUpdate{First: *prior, Second: sc},
			observed: sc.Commitment,
			source:   o.source.name,
		}, nil
	}

	sameIndex, err := w.store.ObservedByIndex(home, sc.Index)
	if err != nil {
		return nil, err
	}
	if sameIndex != nil && sameIndex.Root != sc.Root {
		return &finding{
			kind:     types.FraudDoubleUpdate,
			reason:   fmt.Sprintf("two roots for index %d: %s and %s", sc.Index, sameIndex.Root.Short(), sc.Root.Short()),
			observed: sc.Commitment,
			source:   o.source.name,
		}, nil
	}

	if sc.Index >= w.history.Count() {
		return &finding{
			kind:     types.FraudImproperUpdate,
			reason:   fmt.Sprintf("index %d beyond outbox of %d messages", sc.Index, w.history.Count()),
			observed: sc.Commitment,
			source:   o.source.name,
		}, nil
	}
	if expected := w.history.RootAt(sc.Index + 1); sc.Root != expected {
		return &finding{
			kind:     types.FraudRootMismatch,
			reason:   fmt.Sprintf("root %s for index %d, expected %s", sc.Root.Short(), sc.Index, expected.Short()),
			observed: sc.Commitment,
			source:   o.source.name,
		}, nil
	}
	return nil, nil
}

// raise halts every guarded pair and, when configured, pushes the evidence on chain.
func (w *Watcher) raise(ctx context.Context, f finding, updater types.Address) {
	w.metrics.FraudDetected.With("kind", string(f.kind)).Add(1)
	w.logger.WithField("chain", f.source).Error("FRAUD: ", f.kind, ": ", f.reason)

	observed := f.observed
	newly := 0
	for _, pair := range w.Pairs() {
		set, err := w.registry.Set(types.FraudRecord{Pair: pair, Kind: f.kind, Reason: f.reason, Evidence: f.evidence, Observed: &observed})
		if err != nil {
			w.logger.Error("Fraud flag raised but not persisted: ", err)
		}
		if !set {
			continue
		}
		newly++
		w.publish(ctx, events.New(events.TypeFraudDetected).
			Pair(pair).
			Index(f.observed.Index).
			Message("%s on %s: %s", f.kind, f.source, f.reason).
			With("kind", string(f.kind)))
	}
	if newly == 0 {
		return
	}

	if w.cfg.SubmitFraudProofs && f.evidence != nil {
		w.submitDoubleUpdate(ctx, *f.evidence)
	}
	if w.cfg.Unenroll {
		w.unenroll(ctx, updater)
	}
}

func (w *Watcher) submitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) {
	type target struct {
		name   string
		submit func(context.Context, types.DoubleUpdate) (chains.TxOutcome, error)
	}
	targets := []target{{w.home.Name(), w.home.SubmitDoubleUpdate}}
	for _, r := range w.replicas {
		targets = append(targets, target{r.Name(), r.SubmitDoubleUpdate})
	}
	for _, t := range targets {
		var outcome chains.TxOutcome
		err := retry.Do(ctx, w.policy, func(ctx context.Context) (err error) {
			outcome, err = t.submit(ctx, du)
			return err
		})
		if err != nil && !errors.Is(err, types.ErrStale) {
			w.logger.WithField("chain", t.name).Error("Double update submission failed: ", err)
			continue
		}
		w.metrics.ProofsSubmitted.Add(1)
		w.logger.WithField("chain", t.name).Warn("Double update submitted, tx ", outcome.TxHash.Short())
		w.publish(ctx, events.New(events.TypeFraudProofSubmitted).
			Message("double update submitted to %s", t.name).
			With("tx_hash", outcome.TxHash.Hex()))
	}
}

func (w *Watcher) unenroll(ctx context.Context, updater types.Address) {
	if w.attestation == nil {
		w.logger.Error("Unenrollment configured without an attestation key")
		return
	}
	sn, err := signer.SignFailureNotification(ctx, w.attestation, types.FailureNotification{HomeDomain: w.home.Domain(), Updater: updater})
	if err != nil {
		w.logger.Error("Unable to sign failure notification: ", err)
		return
	}
	for _, m := range w.managers {
		var outcome chains.TxOutcome
		err := retry.Do(ctx, w.policy, func(ctx context.Context) (err error) {
			outcome, err = m.Unenroll(ctx, sn)
			return err
		})
		if err != nil && !errors.Is(err, types.ErrStale) {
			w.logger.WithField("domain", m.Domain()).Error("Unenrollment failed: ", err)
			continue
		}
		w.metrics.Unenrolled.Add(1)
		w.logger.WithField("domain", m.Domain()).Warn("Replica of home ", w.home.Domain(), " unenrolled, tx ", outcome.TxHash.Short())
	}
}

func (w *Watcher) publish(ctx context.Context, b *events.Builder) {
	if err := w.bus.Publish(ctx, b.Agent(agentName).Home(w.home.Domain()).Build()); err != nil {
		w.logger.Warn("Unable to publish event: ", err)
	}
}
