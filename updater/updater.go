// Package updater signs a commitment whenever the home outbox grows past the latest one.
package updater

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/agent"
	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/outbox"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

const agentName = "updater"

type Updater struct {
	*agent.Service

	home    chains.Home
	signer  signer.Signer
	store   *store.Store
	history *outbox.History
	bus     events.Publisher
	policy  retry.Policy
	metrics *Metrics
	logger  *log.Entry
}

func New(home chains.Home, s signer.Signer, st *store.Store, bus events.Publisher,
	interval time.Duration, policy retry.Policy, metrics *Metrics) *Updater {
	if metrics == nil {
		metrics = NopMetrics()
	}
	u := &Updater{
		home:    home,
		signer:  s,
		store:   st,
		history: outbox.NewHistory(home, policy),
		bus:     bus,
		policy:  policy,
		metrics: metrics,
		logger:  log.WithFields(log.Fields{"agent": agentName, "home": home.Name()}),
	}
	u.Service = agent.NewService(agentName, interval, u.Tick, u.logger)
	u.Service.Fatal = func(err error) bool { return errors.Is(err, types.ErrSigner) }
	return u
}

// Tick commits every message appended since the latest commitment on the home.
func (u *Updater) Tick(ctx context.Context) error {
	if _, err := u.history.Sync(ctx); err != nil {
		return err
	}
	count := u.history.Count()
	if count == 0 {
		return nil
	}

	var latest *types.SignedCommitment
	err := retry.Do(ctx, u.policy, func(ctx context.Context) (err error) {
		latest, err = u.home.LatestCommitment(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "latest commitment")
	}

	prev := types.ZeroHash
	if latest != nil {
		idx, ok := u.history.IndexOf(latest.Root)
		if !ok {
			return errors.Errorf("home committed root %s is not in the local outbox history, refusing to sign", latest.Root)
		}
		u.metrics.CommittedIndex.Set(float64(idx))
		u.metrics.Backlog.Set(float64(count - 1 - idx))
		if idx+1 >= count {
			return nil
		}
		prev = latest.Root
	}

	sc, err := u.commitmentOver(ctx, prev, count)
	if err != nil {
		return err
	}

	var outcome chains.TxOutcome
	err = retry.Do(ctx, u.policy, func(ctx context.Context) (err error) {
		outcome, err = u.home.SubmitCommitment(ctx, sc)
		return err
	})
	switch {
	case errors.Is(err, types.ErrStale):
		u.logger.Debug("Commitment over ", prev.Short(), " already accepted")
		return nil
	case err != nil:
		return errors.Wrapf(err, "submit %s", sc.Commitment)
	}

	u.metrics.Submitted.Add(1)
	u.logger.WithField("index", sc.Index).Info("Submitted commitment ", sc.Root.Short(), " tx ", outcome.TxHash.Short())
	u.publish(ctx, events.New(events.TypeCommitmentSubmitted).
		Index(sc.Index).
		Message("commitment %d submitted to home", sc.Index).
		With("root", sc.Root.Hex()).
		With("tx_hash", outcome.TxHash.Hex()))
	return nil
}

// commitmentOver returns the commitment extending prev. A commitment already produced over prev
// is reused so the updater never signs two roots over the same previous root.
func (u *Updater) commitmentOver(ctx context.Context, prev types.Hash, count uint32) (types.SignedCommitment, error) {
	stored, err := u.store.ProducedCommitment(u.home.Domain(), prev)
	if err != nil {
		return types.SignedCommitment{}, errors.Wrap(err, "load produced commitment")
	}
	if stored != nil {
		u.logger.WithField("index", stored.Index).Debug("Resubmitting stored commitment over ", prev.Short())
		return *stored, nil
	}

	c := types.Commitment{
		HomeDomain:   u.home.Domain(),
		PreviousRoot: prev,
		Root:         u.history.Root(),
		Index:        count - 1,
	}
	sc, err := signer.SignCommitment(ctx, u.signer, c)
	if err != nil {
		u.metrics.SignerErrors.Add(1)
		u.publish(ctx, events.New(events.TypeAgentFailed).Message("updater signer failed").Err(err))
		return types.SignedCommitment{}, err
	}
	if err := u.store.SaveProducedCommitment(sc); err != nil {
		return types.SignedCommitment{}, errors.Wrap(err, "persist produced commitment")
	}
	u.metrics.Signed.Add(1)
	u.logger.WithField("index", c.Index).Info("Signed commitment ", prev.Short(), " -> ", c.Root.Short())
	u.publish(ctx, events.New(events.TypeCommitmentSigned).Index(c.Index).Message("signed %s", c))
	return sc, nil
}

func (u *Updater) publish(ctx context.Context, b *events.Builder) {
	if err := u.bus.Publish(ctx, b.Agent(agentName).Home(u.home.Domain()).Build()); err != nil {
		u.logger.Warn("Unable to publish event: ", err)
	}
}
