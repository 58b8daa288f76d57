package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Picocrypt/zxcvbn-go"
	"github.com/potetofly25/KeyManager2/internal/vault"
)

type masterReq struct {
	Master string `json:"master"`
}

type tokenResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Strength  *int      `json:"strength,omitempty"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlUnlockIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}
	var req masterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	master := strings.TrimSpace(req.Master)
	score := zxcvbn.PasswordStrength(master, nil).Score
	if score < 2 {
		s.logger.Printf("init with weak master password (score %d)", score)
	}
	if err := s.vault.Initialize(r.Context(), master); err != nil {
		writeError(w, err)
		return
	}
	tok, exp, err := s.signer.IssueToken("vault")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tokenResp{Token: tok, ExpiresAt: exp, Strength: &score})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlUnlockIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}
	var req masterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.vault.Unlock(r.Context(), strings.TrimSpace(req.Master)); err != nil {
		writeError(w, err)
		return
	}
	tok, exp, err := s.signer.IssueToken("vault")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tokenResp{Token: tok, ExpiresAt: exp})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.vault.Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.vault.Initialized(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"unlocked":    s.vault.Unlocked(),
		"initialized": initialized,
	})
}

type encryptReq struct {
	Plaintext string `json:"plaintext"`
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req encryptReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	env, err := s.vault.EncryptField(req.Plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"envelope": env})
}

type decryptReq struct {
	Envelope string `json:"envelope"`
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req decryptReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	pt, err := s.vault.DecryptField(req.Envelope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"plaintext": pt})
}

type decryptAllReq struct {
	Records []vault.Credential `json:"records"`
}

type fieldResultResp struct {
	Record    vault.Credential `json:"record"`
	Decrypted bool             `json:"decrypted"`
}

func (s *Server) handleDecryptAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req decryptAllReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	results, err := s.vault.DecryptAll(req.Records)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"results": toResultResp(results)})
}

type exportReq struct {
	Records  []vault.Credential `json:"records"`
	Path     string             `json:"path"`
	Password string             `json:"password"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req exportReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	if err := s.vault.Export(req.Records, req.Path, req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importReq struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req importReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	results, err := s.vault.Import(req.Path, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"results": toResultResp(results)})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Audit().Verify(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"entries": s.vault.Audit().Entries()})
}

func toResultResp(results []vault.FieldResult) []fieldResultResp {
	out := make([]fieldResultResp, len(results))
	for i, res := range results {
		out[i] = fieldResultResp{Record: res.Credential, Decrypted: res.Decrypted}
	}
	return out
}
