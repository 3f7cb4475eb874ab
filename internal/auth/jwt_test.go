package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() *Claims {
	return &Claims{
		UserID: "acct-1",
		Email:  "alice@example.com",
		Name:   "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidateToken(t *testing.T) {
	a := New(testSecret)
	tokenStr := signToken(t, testSecret, validClaims())

	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "acct-1" || claims.Email != "alice@example.com" {
		t.Errorf("claims = %q/%q, want acct-1/alice@example.com", claims.UserID, claims.Email)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := New(testSecret)
	tokenStr := signToken(t, "other-secret", validClaims())

	if _, err := a.ValidateToken(tokenStr); err == nil {
		t.Fatal("token signed with wrong secret was accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := New(testSecret)
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenStr := signToken(t, testSecret, claims)

	if _, err := a.ValidateToken(tokenStr); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestValidateTokenRequiresUserID(t *testing.T) {
	a := New(testSecret)
	claims := validClaims()
	claims.UserID = ""
	tokenStr := signToken(t, testSecret, claims)

	if _, err := a.ValidateToken(tokenStr); err == nil {
		t.Fatal("token without user_id was accepted")
	}
}

func TestMiddleware(t *testing.T) {
	a := New(testSecret)
	var got *Claims
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	// Missing token
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	// Bearer header
	tokenStr := signToken(t, testSecret, validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}
	if got == nil || got.UserID != "acct-1" {
		t.Errorf("claims not propagated to handler")
	}

	// Query parameter fallback
	got = nil
	req = httptest.NewRequest("GET", "/?token="+tokenStr, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got == nil {
		t.Errorf("query token not accepted: status %d", rec.Code)
	}
}
