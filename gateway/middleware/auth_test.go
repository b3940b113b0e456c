package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendfarm/crypto"
)

const testSecret = "flywheel-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func callerEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(caller.String()))
	})
}

func TestAuthenticatorSetsCaller(t *testing.T) {
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "lendfarm", Audience: "flywheel"}, nil)
	handler := auth.Middleware("claim")(callerEcho(t))

	token := signToken(t, jwt.MapClaims{
		"sub":   alice.String(),
		"iss":   "lendfarm",
		"aud":   []interface{}{"flywheel"},
		"scope": "claim read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/flywheel/claim", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Body.String() != alice.String() {
		t.Fatalf("expected caller %s, got %s", alice, res.Body.String())
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")
	pool := crypto.AddressFromSeed(crypto.PoolPrefix, "pool")
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "lendfarm"}, nil)
	handler := auth.Middleware("claim")(callerEcho(t))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, jwt.MapClaims{"sub": alice.String(), "iss": "lendfarm", "scope": "claim", "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
		{name: "issuer", header: "Bearer " + signToken(t, jwt.MapClaims{"sub": alice.String(), "iss": "other", "scope": "claim"}), status: http.StatusUnauthorized},
		{name: "pool subject", header: "Bearer " + signToken(t, jwt.MapClaims{"sub": pool.String(), "iss": "lendfarm", "scope": "claim"}), status: http.StatusUnauthorized},
		{name: "scope", header: "Bearer " + signToken(t, jwt.MapClaims{"sub": alice.String(), "iss": "lendfarm", "scope": "read"}), status: http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/flywheel/claim", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, res.Code)
		}
	}
}

func TestAuthenticatorDisabledIgnoresCallerHeaderByDefault(t *testing.T) {
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	handler := auth.Middleware("claim")(callerEcho(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/flywheel/claim", nil)
	req.Header.Set(CallerHeader, alice.String())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected header caller to be ignored, got %d %q", res.Code, res.Body.String())
	}
}

func TestAuthenticatorDisabledUsesCallerHeaderWhenAllowed(t *testing.T) {
	alice := crypto.AddressFromSeed(crypto.AccountPrefix, "alice")
	auth := NewAuthenticator(AuthConfig{Enabled: false, AllowHeaderCaller: true}, nil)
	handler := auth.Middleware()(callerEcho(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/flywheel/claim", nil)
	req.Header.Set(CallerHeader, alice.String())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Body.String() != alice.String() {
		t.Fatalf("expected caller from header, got %q", res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/flywheel/claim", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected no caller without header, got %d", res.Code)
	}
}

func TestRequestIDPropagatesOrAssigns(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "abc-123" || res.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected inbound id to propagate, got %q", seen)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.lendfarm.test"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/flywheel/claim", nil)
	req.Header.Set("Origin", "https://app.lendfarm.test")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://app.lendfarm.test" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/flywheel/pools", nil)
	req.Header.Set("Origin", "https://evil.test")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin, got %q", got)
	}
}
