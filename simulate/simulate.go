// Package simulate runs every agent of a node against in-process chains.
package simulate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/chains/httpchain"
	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/config"
	"github.com/supragya/NomadConnector/connector"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

const homeDomain = 1000

type Config struct {
	Messages int
	Replicas int
	// Optimistic is the confirmation window of every replica.
	Optimistic time.Duration
	// Interval is the poll interval of every agent.
	Interval time.Duration
	// Timeout bounds the wait for every message to settle.
	Timeout time.Duration
	// Gateway, when set, serves the chains over HTTP on this address and the agents dial it.
	Gateway string
}

func DefaultConfig() Config {
	return Config{
		Messages:   10,
		Replicas:   2,
		Optimistic: 2 * time.Second,
		Interval:   200 * time.Millisecond,
		Timeout:    time.Minute,
	}
}

// ReplicaResult is the final status of every message sent to one replica.
type ReplicaResult struct {
	Name    string
	Domain  uint32
	Records []types.MessageRecord
}

// Processed counts records in the processed state.
func (r ReplicaResult) Processed() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == types.StatusProcessed {
			n++
		}
	}
	return n
}

type Result struct {
	Elapsed  time.Duration
	Replicas []ReplicaResult
	// Settled is false when Timeout passed before every message was processed.
	Settled bool
	Alarms  int
}

func replicaName(i int) string {
	return fmt.Sprintf("replica-%d", i+1)
}

func replicaDomain(i int) uint32 {
	return homeDomain + uint32(i+1)*1000
}

// nodeConfig describes the simulated network. Memory chains are built from it, and with a
// gateway the agents dial the same names over HTTP.
func (c Config) nodeConfig(updater types.Address, gatewayURL string) *config.Config {
	kind, rpc := config.KindMemory, ""
	if gatewayURL != "" {
		kind, rpc = config.KindHTTP, gatewayURL
	}
	cfg := config.DefaultConfig()
	cfg.DBBackend = "memdb"
	cfg.Home.ChainConfig = config.ChainConfig{Name: "home", Domain: homeDomain, Kind: kind, RPC: rpc}
	for i := 0; i < c.Replicas; i++ {
		rc := config.ReplicaConfig{
			ChainConfig:       config.ChainConfig{Name: replicaName(i), Domain: replicaDomain(i), Kind: kind, RPC: rpc},
			Updater:           updater.Hex(),
			OptimisticSeconds: uint32(c.Optimistic / time.Second),
			ConnectionManager: rpc,
		}
		cfg.Replicas = append(cfg.Replicas, rc)
	}
	cfg.Updater = config.UpdaterConfig{Enabled: true, Interval: c.Interval}
	cfg.Watcher = config.WatcherConfig{Enabled: true, Interval: c.Interval, SubmitFraudProofs: true}
	cfg.Relayer = config.RelayerConfig{Enabled: true, Interval: c.Interval}
	cfg.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = 100 * time.Millisecond
	return cfg
}

// Run dispatches Messages round robin to the replicas and waits until all are processed.
func Run(ctx context.Context, c Config) (*Result, error) {
	if c.Replicas <= 0 || c.Messages < 0 {
		return nil, errors.New("need at least one replica and a non negative message count")
	}
	key, err := signer.GenerateLocalSigner()
	if err != nil {
		return nil, err
	}

	memCfg := c.nodeConfig(key.Address(), "")
	mem, err := connector.Dial(memCfg)
	if err != nil {
		return nil, err
	}
	home := mem.Home.(*memchain.Home)

	nodeCfg, chains := memCfg, mem
	if c.Gateway != "" {
		url, stop, err := serveGateway(c.Gateway, mem)
		if err != nil {
			return nil, err
		}
		defer stop()
		nodeCfg = c.nodeConfig(key.Address(), url)
		if chains, err = connector.Dial(nodeCfg); err != nil {
			return nil, err
		}
	}

	node, err := connector.NewNode(nodeCfg, connector.Options{
		Roles:      connector.ConfiguredRoles(nodeCfg),
		Chains:     chains,
		Store:      store.NewMemStore(),
		UpdaterKey: key,
		NopMetrics: true,
	})
	if err != nil {
		return nil, err
	}

	expected := make([][]uint32, c.Replicas)
	for i := 0; i < c.Messages; i++ {
		r := i % c.Replicas
		msg, err := home.Dispatch(types.Keccak256([]byte("simulate")), replicaDomain(r), types.Keccak256([]byte(replicaName(r))), []byte(fmt.Sprintf("message %d", i)))
		if err != nil {
			return nil, err
		}
		expected[r] = append(expected[r], msg.Index)
	}
	log.Info("Dispatched ", c.Messages, " messages to ", c.Replicas, " replicas")

	start := time.Now()
	if err := node.Start(); err != nil {
		return nil, err
	}
	defer node.Stop()

	res := &Result{}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		res.Replicas, res.Settled, err = collect(node, expected)
		if err != nil {
			return nil, err
		}
		if res.Settled {
			break
		}
		select {
		case <-ctx.Done():
			log.Warn("Simulation timed out before every message was processed")
			res.Elapsed = time.Since(start)
			res.Alarms = alarms(node)
			return res, nil
		case <-ticker.C:
		}
	}
	res.Elapsed = time.Since(start)
	res.Alarms = alarms(node)
	return res, nil
}

func alarms(node *connector.Node) int {
	n := 0
	for _, ev := range node.Bus().Recorder().Recent(0) {
		if ev.IsAlarm() {
			n++
		}
	}
	return n
}

func collect(node *connector.Node, expected [][]uint32) ([]ReplicaResult, bool, error) {
	settled := true
	out := make([]ReplicaResult, 0, len(expected))
	for i, p := range node.Processors() {
		rr := ReplicaResult{Name: replicaName(i), Domain: replicaDomain(i)}
		for _, index := range expected[i] {
			rec, err := p.Status(index)
			if err != nil {
				return nil, false, err
			}
			if rec.Status != types.StatusProcessed {
				settled = false
			}
			rr.Records = append(rr.Records, rec)
		}
		out = append(out, rr)
	}
	return out, settled, nil
}

func serveGateway(addr string, c *connector.Chains) (string, func(), error) {
	gw := httpchain.NewGateway()
	gw.AddHome(c.Home)
	for i, r := range c.Replicas {
		gw.AddReplica(r)
		if c.Managers[i] != nil {
			gw.AddManager(c.Managers[i])
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrap(err, "gateway listener")
	}
	srv := &http.Server{Handler: gw, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("Gateway stopped: ", err)
		}
	}()
	url := "http://" + ln.Addr().String()
	log.Info("Serving simulated chains on ", url)
	return url, func() { srv.Close() }, nil
}
