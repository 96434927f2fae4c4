package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newAuthHandler(t *testing.T, password string) *AuthHandler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return NewAuthHandler(testSecret, string(hash), time.Hour, discardLogger())
}

func TestLoginIssuesToken(t *testing.T) {
	h := newAuthHandler(t, "s3nha-forte")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"s3nha-forte"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("expected token in response, got %s", rec.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newAuthHandler(t, "s3nha-forte")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"errada"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireStaffAcceptsIssuedToken(t *testing.T) {
	h := newAuthHandler(t, "s3nha-forte")

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"s3nha-forte"}`))
	loginRec := httptest.NewRecorder()
	h.Login(loginRec, loginReq)
	var resp loginResponse
	if err := json.Unmarshal(loginRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	called := false
	protected := RequireStaff(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/business-hours", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v, want 200 and handler reached", rec.Code, called)
	}
}

func TestRequireStaffRejectsMissingToken(t *testing.T) {
	protected := RequireStaff(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/business-hours", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireStaffRejectsTamperedToken(t *testing.T) {
	h := newAuthHandler(t, "s3nha-forte")
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"s3nha-forte"}`))
	loginRec := httptest.NewRecorder()
	h.Login(loginRec, loginReq)
	var resp loginResponse
	if err := json.Unmarshal(loginRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	protected := RequireStaff(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/business-hours", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token+"x")
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
