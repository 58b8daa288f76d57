// Package server exposes the vault core over a local HTTP JSON API for
// the UI collaborator. Unlock and init are public but rate limited per
// client IP; every other endpoint requires a bearer token minted by a
// successful unlock.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/potetofly25/KeyManager2/internal/auth"
	"github.com/potetofly25/KeyManager2/internal/platform"
	"github.com/potetofly25/KeyManager2/internal/session"
	"github.com/potetofly25/KeyManager2/internal/storage"
	"github.com/potetofly25/KeyManager2/internal/vault"

	"golang.org/x/time/rate"
)

type Server struct {
	cfg Config

	mux    *http.ServeMux
	signer *auth.JWTSigner
	logger *log.Logger
	vault  *vault.Vault

	rlUnlockIP *ipLimiter
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()

	var blobs storage.BlobStore
	if cfg.MongoURI != "" {
		mb, err := storage.NewMongoBlobStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoColl)
		if err != nil {
			return nil, err
		}
		blobs = mb
	} else {
		blobs = storage.NewFileBlobStore(cfg.KeyDir)
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		signer: auth.NewJWTSigner(priv, cfg.JWTIssuer, cfg.TokenTTL),
		logger: log.New(os.Stdout, "[keymgrd] ", log.LstdFlags|log.Lshortfile),
		vault:  vault.New(session.NewManager(blobs, platform.NewDefaultProtector(cfg.KeyDir))),
	}

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	s.rlUnlockIP = newIPLimiter(rate.Limit(perWindow(10, time.Minute)), 10, 1*time.Hour)

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") && !s.isPublic(path) {
		auth.AuthRequired(s.signer)(s.mux).ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/api/health", "/api/init", "/api/unlock":
		return true
	default:
		return false
	}
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
}
