package httpchain

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/types"
)

// Gateway serves chain implementations over the API the client speaks.
type Gateway struct {
	router   *mux.Router
	homes    map[uint32]chains.Home
	replicas map[uint32]chains.Replica
	managers map[uint32]chains.ConnectionManager
}

func NewGateway() *Gateway {
	g := &Gateway{
		router:   mux.NewRouter(),
		homes:    make(map[uint32]chains.Home),
		replicas: make(map[uint32]chains.Replica),
		managers: make(map[uint32]chains.ConnectionManager),
	}
	r := g.router.PathPrefix("/v1/{domain:[0-9]+}").Subrouter()
	r.HandleFunc("/outbox/length", g.outboxLength).Methods(http.MethodGet)
	r.HandleFunc("/outbox/{index:[0-9]+}", g.message).Methods(http.MethodGet)
	r.HandleFunc("/commitments/latest", g.latest).Methods(http.MethodGet)
	r.HandleFunc("/commitments/previous/{root}", g.byPrevious).Methods(http.MethodGet)
	r.HandleFunc("/commitments", g.commitments).Methods(http.MethodGet)
	r.HandleFunc("/commitments", g.submitCommitment).Methods(http.MethodPost)
	r.HandleFunc("/double-updates", g.doubleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/updater", g.updater).Methods(http.MethodGet)
	r.HandleFunc("/roots/{which:committed|confirmed}", g.root).Methods(http.MethodGet)
	r.HandleFunc("/processed/{index:[0-9]+}", g.processed).Methods(http.MethodGet)
	r.HandleFunc("/executions", g.execute).Methods(http.MethodPost)
	r.HandleFunc("/unenroll", g.unenroll).Methods(http.MethodPost)
	return g
}

func (g *Gateway) AddHome(h chains.Home)                 { g.homes[h.Domain()] = h }
func (g *Gateway) AddReplica(r chains.Replica)           { g.replicas[r.Domain()] = r }
func (g *Gateway) AddManager(m chains.ConnectionManager) { g.managers[m.Domain()] = m }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) outboxLength(w http.ResponseWriter, r *http.Request) {
	home, ok := g.home(w, r)
	if !ok {
		return
	}
	n, err := home.OutboxLength(r.Context())
	reply(w, map[string]uint32{"length": n}, err)
}

func (g *Gateway) message(w http.ResponseWriter, r *http.Request) {
	home, ok := g.home(w, r)
	if !ok {
		return
	}
	index, _ := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	msg, err := home.Message(r.Context(), uint32(index))
	reply(w, msg, err)
}

func (g *Gateway) latest(w http.ResponseWriter, r *http.Request) {
	home, ok := g.home(w, r)
	if !ok {
		return
	}
	sc, err := home.LatestCommitment(r.Context())
	reply(w, sc, err)
}

func (g *Gateway) byPrevious(w http.ResponseWriter, r *http.Request) {
	home, ok := g.home(w, r)
	if !ok {
		return
	}
	root, err := types.HexToHash(mux.Vars(r)["root"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInternal, err.Error())
		return
	}
	sc, err := home.CommitmentByPreviousRoot(r.Context(), root)
	reply(w, sc, err)
}

func (g *Gateway) commitments(w http.ResponseWriter, r *http.Request) {
	cursor, _ := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)
	var (
		list []types.SignedCommitment
		next uint64
		err  error
	)
	domain := domainOf(r)
	if home, ok := g.homes[domain]; ok {
		list, next, err = home.Commitments(r.Context(), cursor)
	} else if replica, ok := g.replicas[domain]; ok {
		list, next, err = replica.Commitments(r.Context(), cursor)
	} else {
		unknownDomain(w, domain)
		return
	}
	reply(w, map[string]interface{}{"commitments": list, "next": next}, err)
}

func (g *Gateway) submitCommitment(w http.ResponseWriter, r *http.Request) {
	var sc types.SignedCommitment
	if !readBody(w, r, &sc) {
		return
	}
	var (
		outcome chains.TxOutcome
		err     error
	)
	domain := domainOf(r)
	if home, ok := g.homes[domain]; ok {
		outcome, err = home.SubmitCommitment(r.Context(), sc)
	} else if replica, ok := g.replicas[domain]; ok {
		outcome, err = replica.SubmitCommitment(r.Context(), sc)
	} else {
		unknownDomain(w, domain)
		return
	}
	reply(w, outcome, err)
}

func (g *Gateway) doubleUpdate(w http.ResponseWriter, r *http.Request) {
	var du types.DoubleUpdate
	if !readBody(w, r, &du) {
		return
	}
	var (
		outcome chains.TxOutcome
		err     error
	)
	domain := domainOf(r)
	if home, ok := g.homes[domain]; ok {
		outcome, err = home.SubmitDoubleUpdate(r.Context(), du)
	} else if replica, ok := g.replicas[domain]; ok {
		outcome, err = replica.SubmitDoubleUpdate(r.Context(), du)
	} else {
		unknownDomain(w, domain)
		return
	}
	reply(w, outcome, err)
}

func (g *Gateway) updater(w http.ResponseWriter, r *http.Request) {
	home, ok := g.home(w, r)
	if !ok {
		return
	}
	addr, err := home.Updater(r.Context())
	reply(w, map[string]types.Address{"updater": addr}, err)
}

func (g *Gateway) root(w http.ResponseWriter, r *http.Request) {
	replica, ok := g.replica(w, r)
	if !ok {
		return
	}
	var (
		root types.Hash
		err  error
	)
	if mux.Vars(r)["which"] == "committed" {
		root, err = replica.CommittedRoot(r.Context())
	} else {
		root, err = replica.ConfirmedRoot(r.Context())
	}
	reply(w, map[string]types.Hash{"root": root}, err)
}

func (g *Gateway) processed(w http.ResponseWriter, r *http.Request) {
	replica, ok := g.replica(w, r)
	if !ok {
		return
	}
	index, _ := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	done, err := replica.IsMessageProcessed(r.Context(), uint32(index))
	reply(w, map[string]bool{"processed": done}, err)
}

func (g *Gateway) execute(w http.ResponseWriter, r *http.Request) {
	replica, ok := g.replica(w, r)
	if !ok {
		return
	}
	var proof types.Proof
	if !readBody(w, r, &proof) {
		return
	}
	outcome, err := replica.SubmitExecution(r.Context(), proof)
	reply(w, outcome, err)
}

func (g *Gateway) unenroll(w http.ResponseWriter, r *http.Request) {
	domain := domainOf(r)
	manager, ok := g.managers[domain]
	if !ok {
		unknownDomain(w, domain)
		return
	}
	var sn types.SignedFailureNotification
	if !readBody(w, r, &sn) {
		return
	}
	outcome, err := manager.Unenroll(r.Context(), sn)
	reply(w, outcome, err)
}

func (g *Gateway) home(w http.ResponseWriter, r *http.Request) (chains.Home, bool) {
	domain := domainOf(r)
	h, ok := g.homes[domain]
	if !ok {
		unknownDomain(w, domain)
	}
	return h, ok
}

func (g *Gateway) replica(w http.ResponseWriter, r *http.Request) (chains.Replica, bool) {
	domain := domainOf(r)
	rep, ok := g.replicas[domain]
	if !ok {
		unknownDomain(w, domain)
	}
	return rep, ok
}

func domainOf(r *http.Request) uint32 {
	d, _ := strconv.ParseUint(mux.Vars(r)["domain"], 10, 32)
	return uint32(d)
}

func readBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInternal, "malformed body: "+err.Error())
		return false
	}
	return true
}

func unknownDomain(w http.ResponseWriter, domain uint32) {
	writeError(w, http.StatusNotFound, CodeNotFound, "unknown domain "+strconv.FormatUint(uint64(domain), 10))
}

func reply(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func writeChainError(w http.ResponseWriter, err error) {
	if reverted, ok := types.IsReverted(err); ok {
		writeError(w, http.StatusOK, CodeReverted, reverted.Reason)
		return
	}
	switch {
	case errors.Is(err, types.ErrStale):
		writeError(w, http.StatusConflict, CodeStale, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case types.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, CodeInternal, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("module", "gateway").Warn("Unable to write response: ", err)
	}
}
