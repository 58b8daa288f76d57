package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/init", s.handleInit)
	s.mux.HandleFunc("/api/unlock", s.handleUnlock)

	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/fields/encrypt", s.handleEncrypt)
	s.mux.HandleFunc("/api/fields/decrypt", s.handleDecrypt)
	s.mux.HandleFunc("/api/fields/decrypt-all", s.handleDecryptAll)
	s.mux.HandleFunc("/api/export", s.handleExport)
	s.mux.HandleFunc("/api/import", s.handleImport)
	s.mux.HandleFunc("/api/audit", s.handleAudit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
