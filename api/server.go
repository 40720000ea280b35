package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"realestate-scraper/config"
	"realestate-scraper/pipeline"
	"realestate-scraper/utils"
)

// Server routes HTTP requests to a Manager.
type Server struct {
	manager *Manager
	metrics http.Handler
	logger  *utils.Logger
	router  *mux.Router
}

// NewServer builds the router. metrics may be nil to omit /metrics.
func NewServer(manager *Manager, metrics http.Handler, logger *utils.Logger) *Server {
	s := &Server{manager: manager, metrics: metrics, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/scrape", s.handleScrapeDefault).Methods(http.MethodPost)
	s.router.HandleFunc("/scrape/sequence", s.handleSequence).Methods(http.MethodPost)
	s.router.HandleFunc("/scrape/{site}", s.handleScrape).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down the
// listener and interrupts running crawls.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return errors.Join(err, s.manager.Shutdown(shutdownCtx))
	case <-ctx.Done():
	}

	s.logger.Info("[api] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.manager.Shutdown(shutdownCtx)
}

type message struct {
	Message string `json:"message"`
}

// handleScrapeDefault keeps the original single-site endpoint, which crawls bayside.
func (s *Server) handleScrapeDefault(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, config.SiteBayside)
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, mux.Vars(r)["site"])
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, site string) {
	var o pipeline.Overrides
	if raw := r.URL.Query().Get("max_listings"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, message{"max_listings must be a positive integer"})
			return
		}
		o.MaxListings = n
	}

	switch err := s.manager.Start(site, o); {
	case errors.Is(err, ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, message{"Scraper is already running"})
	case errors.Is(err, ErrUnknownSite):
		writeJSON(w, http.StatusNotFound, message{"Unknown site " + site})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, message{err.Error()})
	default:
		s.logger.Info("[api] Started %s (max listings override %d)", site, o.MaxListings)
		writeJSON(w, http.StatusOK, message{"Scraper started successfully"})
	}
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.StartSequence(); err != nil {
		writeJSON(w, http.StatusConflict, message{"Scraper is already running"})
		return
	}
	s.logger.Info("[api] Started sequence %v", s.manager.Sites())
	writeJSON(w, http.StatusOK, message{"Sequence started successfully"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
