// Package server expone la superficie HTTP: disparo de jobs para el
// scheduler externo, endpoints de administración y lectura de advice.
// Toda respuesta es JSON estructurado; nunca un 500 desnudo.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/polyadvisor/engine/internal/advice"
	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Config son los secretos y la dirección de escucha del servidor.
type Config struct {
	Addr        string
	CronSecret  string
	AdminSecret string
}

// Server enruta las peticiones hacia el runner de jobs y los stores.
type Server struct {
	cfg    Config
	runner *cron.Runner
	jobs   map[string]cron.Job
	advice *advice.Model
	store  ports.Storage
	router *mux.Router
}

// New construye el servidor y registra las rutas.
func New(cfg Config, runner *cron.Runner, jobs []cron.Job, model *advice.Model, store ports.Storage) *Server {
	byName := make(map[string]cron.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name] = j
	}
	s := &Server{
		cfg:    cfg,
		runner: runner,
		jobs:   byName,
		advice: model,
		store:  store,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(requestIDMiddleware, loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/advice/{conditionID}", s.handleAdvice).Methods(http.MethodGet)

	jobs := s.router.PathPrefix("/jobs").Subrouter()
	jobs.Use(s.bearerAuth(func() string { return s.cfg.CronSecret }))
	jobs.HandleFunc("/{name}", s.handleJob).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.bearerAuth(func() string { return s.cfg.AdminSecret }))
	admin.HandleFunc("/seed", s.handleSeed).Methods(http.MethodPost)
	admin.HandleFunc("/reset-offset", s.handleResetOffset).Methods(http.MethodPost)
	admin.HandleFunc("/watchlist", s.handleWatchlistAdd).Methods(http.MethodPost)
	admin.HandleFunc("/watchlist/{wallet}", s.handleWatchlistRemove).Methods(http.MethodDelete)
	admin.HandleFunc("/watchlist", s.handleWatchlistGet).Methods(http.MethodGet)
}

// Handler devuelve el http.Handler raíz, para el binario y para tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe sirve hasta que el context se cancele; el shutdown drena
// las peticiones en vuelo.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// bearerAuth compara el token Bearer en tiempo constante. Sin secreto
// configurado la ruta queda cerrada, nunca abierta.
func (s *Server) bearerAuth(secret func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := secret()
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"ok":    false,
					"error": "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lastSync, _ := s.store.GetState(r.Context(), domain.StateLastSyncAt, "")
	lastCompute, _ := s.store.GetState(r.Context(), domain.StateLastComputeAt, "")
	lastLive, _ := s.store.GetState(r.Context(), domain.StateLastLiveAt, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"lastSyncAt":    lastSync,
		"lastComputeAt": lastCompute,
		"lastLiveAt":    lastLive,
	})
}

// handleJob dispara un job por nombre de forma síncrona. Lock tomado no es
// un error para el scheduler: responde 200 con status=skipped.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	job, ok := s.jobs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"ok":    false,
			"error": "unknown job: " + name,
		})
		return
	}

	// El scheduler externo solo mira el body: cualquier resultado del job,
	// incluido error, responde 200 con ok y el mensaje dentro.
	res := s.runner.Run(r.Context(), job)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	conditionID := mux.Vars(r)["conditionID"]
	a, err := s.advice.Cached(r.Context(), conditionID)
	if errors.Is(err, ports.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"ok":    false,
			"error": "market not found",
		})
		return
	}
	if err != nil {
		slog.Error("advice lookup failed", "market", conditionID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "advice unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "advice": a})
}

// handleSeed añade en bloque una lista de wallets a la watchlist, para
// arrancar el refresco en vivo antes del primer ciclo de stats.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallets []string `json:"wallets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Wallets) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "body must be {\"wallets\": [...]}",
		})
		return
	}
	added := 0
	for _, wallet := range body.Wallets {
		wallet = strings.ToLower(strings.TrimSpace(wallet))
		if wallet == "" {
			continue
		}
		if err := s.store.AddToWatchlist(r.Context(), wallet); err != nil {
			slog.Warn("seed wallet failed", "wallet", wallet, "err", err)
			continue
		}
		added++
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "added": added})
}

// handleResetOffset reinicia el scan de mercados desde el principio.
func (s *Server) handleResetOffset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetState(r.Context(), domain.StateMarketsOffset, "0"); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Wallet) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "body must be {\"wallet\": \"0x...\"}",
		})
		return
	}
	wallet := strings.ToLower(strings.TrimSpace(body.Wallet))
	if err := s.store.AddToWatchlist(r.Context(), wallet); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallet": wallet})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	wallet := strings.ToLower(mux.Vars(r)["wallet"])
	if err := s.store.RemoveFromWatchlist(r.Context(), wallet); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallet": wallet})
}

func (s *Server) handleWatchlistGet(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.Watchlist(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallets": wallets})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", r.Context().Value(requestIDKey),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
