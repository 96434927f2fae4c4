package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/auth"
	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/httpx"
)

// AuthHandler issues staff tokens for the admin surface. There is a single
// staff credential, held as a bcrypt hash in configuration.
type AuthHandler struct {
	secret       string
	passwordHash string
	tokenTTL     time.Duration
	logger       *slog.Logger
}

func NewAuthHandler(secret, passwordHash string, tokenTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthHandler{
		secret:       secret,
		passwordHash: passwordHash,
		tokenTTL:     tokenTTL,
		logger:       logger,
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Login serves POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	exp := now.Add(h.tokenTTL)
	token, err := auth.SignHS256(auth.Claims{
		Sub:  "clinic-staff",
		Role: "staff",
		Iat:  now.Unix(),
		Exp:  exp.Unix(),
	}, h.secret)
	if err != nil {
		h.logger.Error("token sign failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
	})
}

// RequireStaff rejects requests without a valid staff bearer token.
func RequireStaff(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Role != "staff" {
				writeError(w, http.StatusForbidden, "staff role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
