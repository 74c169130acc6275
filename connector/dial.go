package connector

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/chains/httpchain"
	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/config"
)

// Chains is every ledger one node talks to. Replicas and their managers share an index;
// a nil manager means the replica chain has no connection manager configured.
type Chains struct {
	Home     chains.Home
	Replicas []chains.Replica
	Managers []chains.ConnectionManager

	clients []*httpchain.Client
}

// Clients lists the HTTP gateway clients, for throughput reporting.
func (c *Chains) Clients() []*httpchain.Client {
	return c.clients
}

// Dial builds the home and replica clients named in cfg.
func Dial(cfg *config.Config) (*Chains, error) {
	switch cfg.Home.Kind {
	case config.KindHTTP:
		return dialHTTP(cfg)
	case config.KindMemory:
		return dialMemory(cfg)
	default:
		return nil, errors.Errorf("unknown chain kind %q", cfg.Home.Kind)
	}
}

func dialHTTP(cfg *config.Config) (*Chains, error) {
	out := &Chains{}
	clients := make(map[string]*httpchain.Client)
	client := func(c config.ChainConfig, rpc string) *httpchain.Client {
		if cl, ok := clients[rpc]; ok {
			return cl
		}
		cl := httpchain.NewClient(rpc, httpchain.Options{RateLimit: c.RateLimit, Burst: c.Burst, Timeout: c.Timeout})
		clients[rpc] = cl
		out.clients = append(out.clients, cl)
		return cl
	}

	log.Info("Dialing home ", cfg.Home.Name, " (domain ", cfg.Home.Domain, ") at ", cfg.Home.RPC)
	out.Home = httpchain.NewHome(client(cfg.Home.ChainConfig, cfg.Home.RPC), cfg.Home.Name, cfg.Home.Domain)
	for _, rc := range cfg.Replicas {
		if rc.Kind != config.KindHTTP {
			return nil, errors.Errorf("replica %s is %s, home is %s", rc.Name, rc.Kind, cfg.Home.Kind)
		}
		log.Info("Dialing replica ", rc.Name, " (domain ", rc.Domain, ") at ", rc.RPC)
		out.Replicas = append(out.Replicas, httpchain.NewReplica(client(rc.ChainConfig, rc.RPC), rc.Name, rc.Domain, cfg.Home.Domain))
		var manager chains.ConnectionManager
		if rc.ConnectionManager != "" {
			manager = httpchain.NewConnectionManager(client(rc.ChainConfig, rc.ConnectionManager), rc.Domain)
		}
		out.Managers = append(out.Managers, manager)
	}
	return out, nil
}

// dialMemory wires in-process chains. They only see each other, so every agent must run in
// this process.
func dialMemory(cfg *config.Config) (*Chains, error) {
	if len(cfg.Replicas) == 0 {
		return nil, errors.New("memory chains need at least one replica")
	}
	updater, err := cfg.Replicas[0].TrustedUpdater()
	if err != nil {
		return nil, err
	}
	home := memchain.NewHome(cfg.Home.Name, cfg.Home.Domain, updater)
	out := &Chains{Home: home}
	for _, rc := range cfg.Replicas {
		if rc.Kind != config.KindMemory {
			return nil, errors.Errorf("replica %s is %s, home is %s", rc.Name, rc.Kind, cfg.Home.Kind)
		}
		trusted, err := rc.TrustedUpdater()
		if err != nil {
			return nil, err
		}
		replica := memchain.NewReplica(rc.Name, rc.Domain, cfg.Home.Domain, trusted, rc.Optimistic(), time.Now)
		manager := memchain.NewConnectionManager(rc.Domain)
		manager.EnrollReplica(replica)
		out.Replicas = append(out.Replicas, replica)
		out.Managers = append(out.Managers, manager)
	}
	log.Warn("Using in-memory chains for home ", cfg.Home.Name, ", nothing is persisted on any ledger")
	return out, nil
}

// managers drops replicas without a connection manager.
func (c *Chains) managers() []chains.ConnectionManager {
	var out []chains.ConnectionManager
	for _, m := range c.Managers {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
