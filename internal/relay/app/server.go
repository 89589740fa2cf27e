// Package app hosts the relay HTTP process: the webhook ingestion endpoint
// plus the install/uninstall management routes, wired to the domain service,
// the SQLite store, and the Telegram gateway.
package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/anonrelay/internal/relay/domain"
	"github.com/louisbranch/anonrelay/internal/relay/storage"
	relaysqlite "github.com/louisbranch/anonrelay/internal/relay/storage/sqlite"
	"github.com/louisbranch/anonrelay/internal/telegram"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	defaultHTTPAddr        = ":8080"
	defaultPathPrefix      = "relay"
	defaultSweepInterval   = 10 * time.Minute
	defaultShutdownTimeout = 10 * time.Second

	maxUpdateBodyBytes = 1 << 20
)

// allowedUpdates lists the event shapes the relay subscribes to.
var allowedUpdates = []string{"message", "edited_message", "callback_query"}

// Config defines the inputs for the relay server.
type Config struct {
	HTTPAddr        string
	PathPrefix      string
	BotToken        string
	OwnerID         int64
	SecretToken     string
	PublicBaseURL   string
	StoragePath     string
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// WebhookManager installs and removes the gateway subscription.
type WebhookManager interface {
	SetWebhook(ctx context.Context, req telegram.SetWebhookRequest) error
	DeleteWebhook(ctx context.Context) error
}

// Server hosts the relay HTTP process.
type Server struct {
	cfg        Config
	store      *relaysqlite.Store
	svc        *domain.Service
	webhooks   WebhookManager
	tasks      *taskGroup
	httpServer *http.Server
}

// New creates a configured relay server backed by the SQLite store and the
// Telegram Bot API.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	store, err := relaysqlite.Open(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	client, err := telegram.New(telegram.Config{Token: cfg.BotToken})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	server, err := newServer(cfg, store, client, client)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	server.store = store
	return server, nil
}

// newServer wires the HTTP surface around injected collaborators.
func newServer(cfg Config, kv storage.KV, gateway domain.Gateway, webhooks WebhookManager) (*Server, error) {
	if cfg.OwnerID == 0 {
		return nil, fmt.Errorf("owner chat id is required")
	}
	if strings.TrimSpace(cfg.SecretToken) == "" {
		return nil, fmt.Errorf("secret token is required")
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	cfg.PathPrefix = strings.Trim(strings.TrimSpace(cfg.PathPrefix), "/")
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = defaultPathPrefix
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	tasks := newTaskGroup()
	svc, err := domain.NewService(domain.Config{
		KV:      kv,
		Gateway: gateway,
		OwnerID: cfg.OwnerID,
		Tasks:   tasks,
	})
	if err != nil {
		return nil, err
	}

	server := &Server{
		cfg:      cfg,
		svc:      svc,
		webhooks: webhooks,
		tasks:    tasks,
	}
	server.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, nil
}

// Handler exposes the HTTP routes.
func (s *Server) Handler() http.Handler {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	prefix := "/" + s.cfg.PathPrefix
	mux.HandleFunc("POST "+prefix+"/install", s.handleInstall)
	mux.HandleFunc("POST "+prefix+"/uninstall", s.handleUninstall)
	mux.HandleFunc("POST "+prefix+"/webhook", s.handleWebhook)
	return mux
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the relay server and blocks until it stops or the context
// ends. Shutdown drains in-flight requests and then waits for background
// tasks before returning.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	if s.store != nil {
		s.store.StartSweep(serverCtx, s.cfg.SweepInterval)
	}

	log.Printf("relay server listening at %s", s.cfg.HTTPAddr)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	s.tasks.Wait(s.cfg.ShutdownTimeout)
	return nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if !ValidSecretToken(s.cfg.SecretToken) {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "secret token is too weak to register"})
		return
	}
	baseURL := strings.TrimRight(strings.TrimSpace(s.cfg.PublicBaseURL), "/")
	if baseURL == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "public base url is not configured"})
		return
	}

	err := s.webhooks.SetWebhook(r.Context(), telegram.SetWebhookRequest{
		URL:            fmt.Sprintf("%s/%s/webhook", baseURL, s.cfg.PathPrefix),
		AllowedUpdates: allowedUpdates,
		SecretToken:    s.cfg.SecretToken,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "webhook installed"})
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	if !ValidSecretToken(s.cfg.SecretToken) {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "secret token is too weak to register"})
		return
	}
	if err := s.webhooks.DeleteWebhook(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "webhook uninstalled"})
}

// handleWebhook ingests one gateway event. Everything past the secret check
// is acknowledged with 200: a retried delivery would double-relay, so
// failures are logged and swallowed rather than surfaced to the gateway.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(secretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.SecretToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var update telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBodyBytes)).Decode(&update); err != nil {
		ackOK(w)
		return
	}

	if err := s.svc.HandleUpdate(r.Context(), update); err != nil {
		log.Printf("handle update: %v", err)
	}
	ackOK(w)
}

func ackOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
