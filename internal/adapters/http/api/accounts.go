package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type signinRequest struct {
	PublicKey string `json:"pubkey"`
	Password  string `json:"password"`
}

// handleSignup handles POST /signup. The password is only ever shown here.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	creds, err := s.deps.Signup(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, creds)
}

// handleSignin handles POST /signin. It accepts JSON or form fields.
func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	const op = "api.signin"
	var req signinRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	} else {
		req.PublicKey = r.FormValue("pubkey")
		req.Password = r.FormValue("password")
	}
	if req.PublicKey == "" || req.Password == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("pubkey and password are required")))
		return
	}

	sess, err := s.deps.Signin(r.Context(), req.PublicKey, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleWallet handles GET /wallet/{pubkey}.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Account(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
