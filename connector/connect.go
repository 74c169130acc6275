// Package connector assembles the agents of one node from configuration and runs them.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tendermint/tendermint/libs/service"
	"golang.org/x/sync/errgroup"

	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/config"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/logging"
	"github.com/supragya/NomadConnector/monitor"
	"github.com/supragya/NomadConnector/processor"
	"github.com/supragya/NomadConnector/relayer"
	"github.com/supragya/NomadConnector/server"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
	"github.com/supragya/NomadConnector/updater"
	"github.com/supragya/NomadConnector/watcher"
)

const (
	dbName             = "nomad"
	recentEvents       = 1000
	throughputInterval = 30 * time.Second
)

// Roles selects which agents a node runs. Relayer relays commitments, Processor proves and
// executes confirmed messages; a node with both runs one loop per replica doing the two.
type Roles struct {
	Updater   bool
	Watcher   bool
	Relayer   bool
	Processor bool
}

// ConfiguredRoles returns the agents enabled in cfg.
func ConfiguredRoles(cfg *config.Config) Roles {
	return Roles{
		Updater:   cfg.Updater.Enabled,
		Watcher:   cfg.Watcher.Enabled,
		Relayer:   cfg.Relayer.Enabled,
		Processor: cfg.Relayer.Enabled,
	}
}

func (r Roles) none() bool {
	return !r.Updater && !r.Watcher && !r.Relayer && !r.Processor
}

// Options override what NewNode would otherwise build from configuration.
type Options struct {
	Roles Roles
	// Chains, when set, is used instead of dialing the configured chains.
	Chains *Chains
	// Store, when set, is used instead of opening the configured database. The node does not close it.
	Store *store.Store
	// UpdaterKey and WatcherKey replace the configured keyfiles.
	UpdaterKey signer.Signer
	WatcherKey signer.Signer
	// NopMetrics disables Prometheus registration.
	NopMetrics bool
}

type runner interface {
	Start() error
	Stop() error
	String() string
	Failed() <-chan struct{}
	Err() error
}

// Node runs every enabled agent over one home and its replicas.
type Node struct {
	service.BaseService

	cfg       *config.Config
	roles     Roles
	chains    *Chains
	store     *store.Store
	ownsStore bool
	registry  *fraud.Registry
	bus       *events.Bus
	monitor   *monitor.Monitor
	server    *server.Server

	updater    *updater.Updater
	watcher    *watcher.Watcher
	relayers   []*relayer.Relayer
	processors []*processor.Processor
	agents     []runner

	logger *log.Entry
	quit   chan struct{}
	wg     sync.WaitGroup
}

func NewNode(cfg *config.Config, opts Options) (*Node, error) {
	if opts.Roles.none() {
		return nil, errors.New("no agent enabled")
	}
	n := &Node{
		cfg:    cfg,
		roles:  opts.Roles,
		chains: opts.Chains,
		store:  opts.Store,
		logger: log.WithField("module", "node"),
	}
	n.BaseService = *service.NewBaseService(logging.NewTMLogger(n.logger), "Node", n)

	var err error
	if n.chains == nil {
		if n.chains, err = Dial(cfg); err != nil {
			return nil, err
		}
	}
	if len(n.chains.Replicas) == 0 {
		return nil, errors.New("no replica configured")
	}
	if n.store == nil {
		db, err := store.OpenDB(dbName, cfg.DBBackend, cfg.DBDir)
		if err != nil {
			return nil, err
		}
		if n.store, err = store.New(db); err != nil {
			db.Close()
			return nil, err
		}
		n.ownsStore = true
	}
	if err := n.build(cfg, opts); err != nil {
		if n.ownsStore {
			n.store.Close()
		}
		return nil, err
	}
	return n, nil
}

func (n *Node) build(cfg *config.Config, opts Options) error {
	var err error
	if n.registry, err = fraud.NewRegistry(n.store); err != nil {
		return errors.Wrap(err, "load fraud flags")
	}
	for _, rec := range n.registry.Records() {
		n.logger.WithField("pair", rec.Pair.String()).Warn("Pair halted since ", rec.SetAt, " (", rec.Kind, "): ", rec.Reason)
	}
	n.bus = events.NewBus(logging.NewTMLogger(log.WithField("module", "events")), recentEvents)

	if err := n.buildMonitor(cfg.Monitor); err != nil {
		return err
	}

	home := n.chains.Home
	pairs := make([]types.Pair, 0, len(n.chains.Replicas))
	for _, r := range n.chains.Replicas {
		pairs = append(pairs, types.Pair{Home: home.Domain(), Replica: r.Domain()})
	}
	if cfg.Server.ListenAddr != "" || cfg.Server.GRPCAddr != "" {
		n.server = server.New(server.Config{ListenAddr: cfg.Server.ListenAddr, GRPCAddr: cfg.Server.GRPCAddr},
			n.registry, n.bus, pairs, nil)
	}

	if opts.Roles.Updater {
		key := opts.UpdaterKey
		if key == nil {
			if key, err = signer.LoadKeyFile(cfg.Updater.KeyFile, signer.RoleUpdater); err != nil {
				return err
			}
		}
		metrics := updater.NopMetrics()
		if !opts.NopMetrics {
			metrics = updater.PrometheusMetrics(cfg.Server.Namespace)
		}
		n.updater = updater.New(home, key, n.store, n.bus, cfg.Updater.Interval, cfg.Retry, metrics)
		n.agents = append(n.agents, n.updater)
	}

	if opts.Roles.Watcher {
		key := opts.WatcherKey
		if key == nil && (cfg.Watcher.Unenroll || cfg.Watcher.KeyFile != "") {
			if key, err = signer.LoadKeyFile(cfg.Watcher.KeyFile, signer.RoleWatcher); err != nil {
				return err
			}
		}
		if key != nil {
			for _, m := range n.chains.Managers {
				if mem, ok := m.(*memchain.ConnectionManager); ok {
					mem.EnrollWatcher(key.Address())
				}
			}
		}
		metrics := watcher.NopMetrics()
		if !opts.NopMetrics {
			metrics = watcher.PrometheusMetrics(cfg.Server.Namespace)
		}
		n.watcher = watcher.New(watcher.Config{
			Interval:          cfg.Watcher.Interval,
			SubmitFraudProofs: cfg.Watcher.SubmitFraudProofs,
			Unenroll:          cfg.Watcher.Unenroll,
		}, home, n.chains.Replicas, n.chains.managers(), key, n.registry, n.store, n.bus, cfg.Retry, metrics)
		n.agents = append(n.agents, n.watcher)
	}

	if opts.Roles.Relayer || opts.Roles.Processor {
		return n.buildRelayers(cfg, opts)
	}
	return nil
}

func (n *Node) buildRelayers(cfg *config.Config, opts Options) error {
	denied, err := cfg.Processor.Denied()
	if err != nil {
		return err
	}
	relayerMetrics, processorMetrics := relayer.NopMetrics(), processor.NopMetrics()
	if !opts.NopMetrics {
		relayerMetrics = relayer.PrometheusMetrics(cfg.Server.Namespace)
		processorMetrics = processor.PrometheusMetrics(cfg.Server.Namespace)
	}

	for _, replica := range n.chains.Replicas {
		rc, ok := cfg.Replica(replica.Name())
		if !ok {
			return errors.Errorf("replica %s is not configured", replica.Name())
		}
		trusted, err := rc.TrustedUpdater()
		if err != nil {
			return err
		}

		p := processor.New(processor.Config{
			Cooldown:      cfg.Processor.Cooldown,
			MaxAttempts:   cfg.Processor.MaxAttempts,
			DeniedSenders: denied,
		}, replica, n.registry, n.store, n.bus, cfg.Retry, processorMetrics.ForReplica(replica.Name()))
		n.processors = append(n.processors, p)
		if n.server != nil {
			n.server.AddStatusSource(p)
		}

		r, err := relayer.New(relayer.Config{
			Interval:        cfg.Relayer.Interval,
			TrustedUpdater:  trusted,
			Optimistic:      rc.Optimistic(),
			SkipCommitments: !opts.Roles.Relayer,
			SkipMessages:    !opts.Roles.Processor,
		}, n.chains.Home, replica, p, n.registry, n.bus, cfg.Retry, relayerMetrics.ForReplica(replica.Name()))
		if err != nil {
			return err
		}
		n.relayers = append(n.relayers, r)
		n.agents = append(n.agents, r)
	}
	return nil
}

func (n *Node) buildMonitor(cfg config.MonitorConfig) error {
	var sinks []monitor.Sink
	if cfg.LogfmtFile != "" {
		sink, err := monitor.OpenLogfmtSink(cfg.LogfmtFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	if cfg.TCPAddr != "" {
		sinks = append(sinks, monitor.NewTCPSink(cfg.TCPAddr, cfg.ReconnectDelay))
	}
	if len(sinks) > 0 {
		n.monitor = monitor.New(n.bus, events.AlarmQuery(), sinks...)
	}
	return nil
}

func (n *Node) OnStart() error {
	if err := n.bus.Start(); err != nil {
		return errors.Wrap(err, "start event bus")
	}
	if n.monitor != nil {
		if err := n.monitor.Start(); err != nil {
			return errors.Wrap(err, "start monitor")
		}
	}

	var g errgroup.Group
	for _, a := range n.agents {
		a := a
		g.Go(func() error {
			return errors.Wrapf(a.Start(), "start %s", a)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return err
		}
	}

	n.quit = make(chan struct{})
	for _, a := range n.agents {
		n.wg.Add(1)
		go n.watchAgent(a)
	}
	if clients := n.chains.Clients(); len(clients) > 0 {
		n.wg.Add(1)
		go n.presentThroughput(throughputInterval)
	}
	n.logger.Info("Node started with ", len(n.agents), " agents over home ", n.chains.Home.Name())
	return nil
}

func (n *Node) OnStop() {
	close(n.quit)
	n.wg.Wait()
	for i := len(n.agents) - 1; i >= 0; i-- {
		if err := n.agents[i].Stop(); err != nil && errors.Cause(err) != service.ErrAlreadyStopped {
			n.logger.Warn("Stopping ", n.agents[i], ": ", err)
		}
	}
	if n.server != nil {
		n.server.Stop()
	}
	if n.monitor != nil {
		n.monitor.Stop()
	}
	n.bus.Stop()
	if n.ownsStore {
		if err := n.store.Close(); err != nil {
			n.logger.Warn("Closing store: ", err)
		}
	}
}

// watchAgent raises an alarm when a is stopped by a fatal error.
func (n *Node) watchAgent(a runner) {
	defer n.wg.Done()
	select {
	case <-n.quit:
	case <-a.Failed():
		n.logger.Error("Agent ", a, " stopped: ", a.Err())
		ev := events.New(events.TypeAgentFailed).
			Agent(a.String()).
			Home(n.chains.Home.Domain()).
			Message("agent %s stopped", a).
			Err(a.Err()).
			Build()
		if err := n.bus.Publish(context.Background(), ev); err != nil {
			n.logger.Warn("Unable to publish event: ", err)
		}
	}
}

func (n *Node) presentThroughput(interval time.Duration) {
	defer n.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
		}
		for _, c := range n.chains.Clients() {
			sent, recv := c.Stats()
			n.logger.Info(fmt.Sprintf("[Gateway stats] %s sent %v B (%v B/s) received %v B (%v B/s)",
				c.Base(), sent.Bytes, sent.AvgRate, recv.Bytes, recv.AvgRate))
		}
	}
}

func (n *Node) Chains() *Chains                     { return n.chains }
func (n *Node) Store() *store.Store                 { return n.store }
func (n *Node) Registry() *fraud.Registry           { return n.registry }
func (n *Node) Bus() *events.Bus                    { return n.bus }
func (n *Node) Processors() []*processor.Processor { return n.processors }
func (n *Node) Relayers() []*relayer.Relayer       { return n.relayers }
