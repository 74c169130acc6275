// Package server exposes health, metrics and operator endpoints of a running node.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tendermint/tendermint/libs/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/logging"
	"github.com/supragya/NomadConnector/types"
	"github.com/supragya/NomadConnector/version"
)

const (
	defaultAlarmLimit = 50
	healthRefresh     = time.Second
	shutdownTimeout   = 5 * time.Second
)

// StatusSource answers message status queries for one replica.
type StatusSource interface {
	Pair() types.Pair
	Status(index uint32) (types.MessageRecord, error)
}

type Config struct {
	ListenAddr string
	GRPCAddr   string
}

type Server struct {
	service.BaseService

	cfg      Config
	registry *fraud.Registry
	bus      *events.Bus
	pairs    []types.Pair
	sources  map[uint32]StatusSource
	gatherer prometheus.Gatherer
	health   *health.Server
	router   *mux.Router
	logger   *log.Entry

	httpSrv *http.Server
	grpcSrv *grpc.Server
	quit    chan struct{}
	done    chan struct{}
}

// New builds the server. A nil gatherer serves the default Prometheus registry.
func New(cfg Config, registry *fraud.Registry, bus *events.Bus, pairs []types.Pair, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		pairs:    pairs,
		sources:  make(map[uint32]StatusSource),
		gatherer: gatherer,
		health:   health.NewServer(),
		router:   mux.NewRouter(),
		logger:   log.WithField("module", "server"),
	}
	s.BaseService = *service.NewBaseService(logging.NewTMLogger(s.logger), "OpsServer", s)

	s.router.HandleFunc("/health", s.healthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/alarms", s.alarms).Methods(http.MethodGet)
	s.router.HandleFunc("/fraud", s.frauds).Methods(http.MethodGet)
	s.router.HandleFunc("/fraud/{home:[0-9]+}/{replica:[0-9]+}/reset", s.resetFraud).Methods(http.MethodPost)
	s.router.HandleFunc("/status/{replica:[0-9]+}/{index:[0-9]+}", s.status).Methods(http.MethodGet)
	s.refreshHealth()
	return s
}

// AddStatusSource registers the processor of one replica.
func (s *Server) AddStatusSource(src StatusSource) {
	s.sources[src.Pair().Replica] = src
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Health is the gRPC health service. Each pair is a service named "home->replica".
func (s *Server) Health() *health.Server {
	return s.health
}

func (s *Server) OnStart() error {
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return errors.Wrap(err, "ops listener")
		}
		s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.logger.Error("Ops server stopped: ", err)
			}
		}()
		s.logger.Info("Serving ops endpoints on ", ln.Addr())
	}
	if s.cfg.GRPCAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			if s.httpSrv != nil {
				s.httpSrv.Close()
			}
			return errors.Wrap(err, "grpc listener")
		}
		s.grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcSrv, s.health)
		go func() {
			if err := s.grpcSrv.Serve(ln); err != nil {
				s.logger.Error("gRPC health server stopped: ", err)
			}
		}()
		s.logger.Info("Serving gRPC health on ", ln.Addr())
	}
	go s.healthRoutine()
	return nil
}

func (s *Server) OnStop() {
	close(s.quit)
	<-s.done
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("Ops server shutdown: ", err)
		}
	}
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	s.health.Shutdown()
}

func (s *Server) healthRoutine() {
	defer close(s.done)
	ticker := time.NewTicker(healthRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

// refreshHealth marks flagged pairs NOT_SERVING.
func (s *Server) refreshHealth() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range s.pairs {
		status := healthpb.HealthCheckResponse_SERVING
		if s.registry.IsSet(p) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(p.String(), status)
	}
	s.health.SetServingStatus("", overall)
}

type healthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Halted  []types.FraudRecord `json:"halted,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: version.ApplicationVersion, Halted: s.registry.Records()}
	if len(resp.Halted) > 0 {
		resp.Status = "halted"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) alarms(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlarmLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	all := r.URL.Query().Get("all") == "true"
	out := []events.Event{}
	for _, ev := range s.bus.Recorder().Recent(0) {
		if len(out) == limit {
			break
		}
		if all || ev.IsAlarm() {
			out = append(out, ev)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) frauds(w http.ResponseWriter, r *http.Request) {
	recs := s.registry.Records()
	if recs == nil {
		recs = []types.FraudRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) resetFraud(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	home, err1 := strconv.ParseUint(vars["home"], 10, 32)
	replica, err2 := strconv.ParseUint(vars["replica"], 10, 32)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	pair := types.Pair{Home: uint32(home), Replica: uint32(replica)}
	rec, err := s.registry.Reset(pair)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.WithField("pair", pair.String()).Warn("Fraud flag reset by operator (was ", rec.Kind, ": ", rec.Reason, ")")
	ev := events.New(events.TypeFraudReset).
		Agent("operator").
		Pair(pair).
		Message("fraud flag cleared, was %s", rec.Kind).
		Build()
	if err := s.bus.Publish(r.Context(), ev); err != nil {
		s.logger.Warn("Unable to publish event: ", err)
	}
	s.refreshHealth()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	replica, _ := strconv.ParseUint(vars["replica"], 10, 32)
	index, err := strconv.ParseUint(vars["index"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	src, ok := s.sources[uint32(replica)]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown replica "+vars["replica"])
		return
	}
	rec, err := src.Status(uint32(index))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("module", "server").Warn("Unable to write response: ", err)
	}
}
