// Package api implements the HTTP surface: trip upload (ingress), cluster
// and detection query (egress), a live detection feed over websocket, and
// a health endpoint. Front-door handling is cooperative single-threaded per
// handler; suspension only happens at DB-acquire and payload-read
// boundaries, with per-trip processing dispatched onto the background
// worker pool.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/tarekm28/ouajourad/pkg/cache"
	"github.com/tarekm28/ouajourad/pkg/cluster"
	"github.com/tarekm28/ouajourad/pkg/config"
	"github.com/tarekm28/ouajourad/pkg/geocode"
	"github.com/tarekm28/ouajourad/pkg/jobqueue"
	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/metrics"
	"github.com/tarekm28/ouajourad/pkg/model"
	"github.com/tarekm28/ouajourad/pkg/mqttpub"
	"github.com/tarekm28/ouajourad/pkg/normalize"
	"github.com/tarekm28/ouajourad/pkg/pipeline"
	"github.com/tarekm28/ouajourad/pkg/query"
	"github.com/tarekm28/ouajourad/pkg/store"
)

// Server is the trip-upload and cluster/detection query HTTP surface.
type Server struct {
	cfg       config.Config
	store     *store.Store
	pool      *jobqueue.Pool
	cache     *cache.ClusterCache
	publisher *mqttpub.Publisher
	metrics   *metrics.Registry
	geocoder  *geocode.Enricher
	logger    *logx.Logger

	apiKeyHash []byte // bcrypt hash of the shared secret; nil disables auth
	limiter    *rate.Limiter
	upgrader   websocket.Upgrader
}

// New builds a Server. If cfg.APIKey is empty, authentication is disabled
// (AuthRejected never fires).
func New(cfg config.Config, st *store.Store, pool *jobqueue.Pool, cc *cache.ClusterCache, pub *mqttpub.Publisher, reg *metrics.Registry, geocoder *geocode.Enricher, logger *logx.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		store:     st,
		pool:      pool,
		cache:     cc,
		publisher: pub,
		metrics:   reg,
		geocoder:  geocoder,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(50), 100),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}

	if cfg.APIKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.APIKey), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.apiKeyHash = hash
	}

	return s, nil
}

// Router builds the gorilla/mux router for the daemon.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/trips", s.authMiddleware(s.rateLimit(http.HandlerFunc(s.handleUploadTrip)))).Methods(http.MethodPost)
	r.Handle("/clusters", s.authMiddleware(http.HandlerFunc(s.handleQueryClusters))).Methods(http.MethodGet)
	r.Handle("/detections", s.authMiddleware(http.HandlerFunc(s.handleQueryDetections))).Methods(http.MethodGet)
	r.Handle("/ws/detections", s.authMiddleware(http.HandlerFunc(s.handleLiveFeed))).Methods(http.MethodGet)
	return r
}

// authMiddleware enforces the shared-secret header when an API key is
// configured, comparing against a bcrypt hash so a leaked process image
// never exposes the raw secret.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKeyHash == nil {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get("X-API-Key")
		if presented == "" || bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(presented)) != nil {
			s.logger.Warn("auth_rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadTrip accepts a trip payload, persists it, and dispatches
// processing onto the worker pool. Returns {ok:true} immediately; the
// actual C1-C6 pipeline run happens asynchronously per the concurrency
// model's background-job tier.
func (s *Server) handleUploadTrip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Warn("payload_too_large", "error", err)
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	payload, err := normalize.DecodeJSON(body)
	if err != nil {
		s.logger.Warn("payload_invalid", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	ctx := r.Context()
	if err := s.store.UploadTrip(ctx, payload.UserID, payload.TripID, payload.StartTime, payload.EndTime, len(payload.Samples), body); err != nil {
		s.logger.Error("upload_persist_failed", "trip_id", payload.TripID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	tripID := payload.TripID
	s.metrics.JobQueueDepth.Inc()
	s.pool.Submit(context.Background(), tripID, func(ctx context.Context) (int, error) {
		defer s.metrics.JobQueueDepth.Dec()
		return s.processTrip(ctx, tripID, payload)
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) processTrip(ctx context.Context, tripID string, payload normalize.Payload) (int, error) {
	start := time.Now()
	result := pipeline.Run(tripID, payload, start)
	s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if err := s.store.WriteTripResults(ctx, tripID, result.Detections, result.RoughSegments); err != nil {
		s.metrics.JobFailures.Inc()
		return 0, err
	}

	s.metrics.DetectionsEmitted.Add(float64(len(result.Detections)))
	s.metrics.SegmentsEmitted.Add(float64(len(result.RoughSegments)))

	for _, d := range result.Detections {
		s.publisher.PublishDetection(mqttpub.DetectionEvent{
			TripID:    d.TripID,
			Lat:       d.Lat,
			Lon:       d.Lon,
			Intensity: d.Intensity,
			Timestamp: d.TS,
		})
	}

	return len(result.Detections), nil
}

// handleQueryClusters serves the egress cluster query: min_conf, since,
// limit, dashboard, eps_m.
func (s *Server) handleQueryClusters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { s.metrics.ClusterQueryLatency.Observe(time.Since(start).Seconds()) }()

	q := r.URL.Query()
	minConf := parseFloat(q.Get("min_conf"), 0.4)
	limit := parseInt(q.Get("limit"), 500)
	dashboard := q.Get("dashboard") == "true"
	epsM := parseFloat(q.Get("eps_m"), 5.0)
	since := parseTime(q.Get("since"))

	ctx := r.Context()

	totalTrips, err := s.store.TripCount(ctx)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if totalTrips == 0 {
		writeJSON(w, http.StatusOK, []model.Cluster{})
		return
	}

	now := time.Now().UTC()
	key := cache.Key(totalTrips, epsM)

	var clusters []model.Cluster
	if cached, ok := s.cache.Get(key, now); ok {
		clusters = cached
	} else {
		detections, err := s.store.DetectionsWithCoordinates(ctx)
		if err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		clusters = cluster.Aggregate(detections, totalTrips, now, epsM)
		s.cache.Put(key, clusters, now)
	}

	for _, c := range clusters {
		s.metrics.ClusterConfidence.Observe(c.Confidence)
	}

	if !since.IsZero() {
		filtered := make([]model.Cluster, 0, len(clusters))
		for _, c := range clusters {
			if !c.LastTS.Before(since) {
				filtered = append(filtered, c)
			}
		}
		clusters = filtered
	}

	shaped := query.Shape(clusters, query.Params{MinConf: minConf, Dashboard: dashboard, Limit: limit})

	for i := range shaped {
		shaped[i].NearestAddress = s.geocoder.NearestAddress(ctx, shaped[i].Lat, shaped[i].Lon)
	}

	writeJSON(w, http.StatusOK, shaped)
}

// handleQueryDetections serves raw detections newest-first.
func (s *Server) handleQueryDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minIntensity := parseFloat(q.Get("min_intensity"), 0)
	limit := parseInt(q.Get("limit"), 5000)

	detections, err := s.store.DetectionsByIntensity(r.Context(), minIntensity, limit)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, detections)
}

// handleLiveFeed upgrades to a websocket and streams every detection
// event published while the connection is open, subscribing to the
// publisher's local fan-out so a broker is not required for the live map
// to work.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.publisher.Subscribe(32)
	defer cancel()

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
