package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		provided string
		config   string
		want     bool
	}{
		{"match", "secret", "secret", true},
		{"mismatch", "wrong", "secret", false},
		{"empty provided", "", "secret", false},
		{"empty config", "secret", "", false},
		{"length mismatch", "secr", "secret", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateAPIKey(tc.provided, tc.config); got != tc.want {
				t.Errorf("ValidateAPIKey(%q, %q) = %v, want %v", tc.provided, tc.config, got, tc.want)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	if _, err := ExtractAPIKey(req); err == nil {
		t.Error("expected error for missing header")
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractAPIKey(req); err == nil {
		t.Error("expected error for non-bearer scheme")
	}

	req.Header.Set("Authorization", "Bearer   ")
	if _, err := ExtractAPIKey(req); err == nil {
		t.Error("expected error for blank key")
	}

	req.Header.Set("Authorization", "Bearer secret")
	key, err := ExtractAPIKey(req)
	if err != nil {
		t.Fatalf("ExtractAPIKey: %v", err)
	}
	if key != "secret" {
		t.Errorf("key = %q, want secret", key)
	}
}

func TestAuthMiddlewareEnforced(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{APIKey: "secret"}, &fakeSummaries{})

	rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrongx")
	if rr := f.do(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with bad key", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid key", rr.Code)
	}

	// Healthz stays open for probes.
	if rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rr.Code)
	}
}

func TestAuthDisabledWhenNoKeyConfigured(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	if rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs", nil)); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when auth disabled", rr.Code)
	}
}
