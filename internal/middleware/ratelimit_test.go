package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/librarian/internal/model"
)

func testRateLimiter(t *testing.T, generalBurst, authBurst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    generalBurst,
		AuthRate:        rate.Limit(1),
		AuthBurst:       authBurst,
		CleanupInterval: time.Minute,
	})
	// 時刻を固定してトークン補充を止める
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }
	t.Cleanup(rl.Stop)
	return rl
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	ctx := ContextWithPrincipal(req.Context(), &model.Principal{UserID: userID, Role: model.RoleMember})
	return req.WithContext(ctx)
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestGeneralMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := testRateLimiter(t, 3, 1)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 body should be JSON: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := testRateLimiter(t, 1, 1)
	handler := rl.GeneralMiddleware()(okHandler())

	for _, userID := range []string{"user-a", "user-b"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(userID))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", userID, w.Code, http.StatusOK)
		}
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestGeneralMiddleware_NoPrincipal_Returns401(t *testing.T) {
	rl := testRateLimiter(t, 1, 1)
	handler := rl.GeneralMiddleware()(mustNotBeCalled(t))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books", nil).WithContext(context.Background()))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_KeysOnClientIP(t *testing.T) {
	rl := testRateLimiter(t, 10, 2)
	handler := rl.AuthMiddleware()(okHandler())

	codes := make([]int, 0, 4)
	for _, addr := range []string{"203.0.113.5:1000", "203.0.113.5:2000", "203.0.113.5:3000", "198.51.100.7:1000"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom(addr))
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i+1, codes[i], want[i])
		}
	}
	if rl.AuthLimiterCount() != 2 {
		t.Errorf("AuthLimiterCount = %d, want 2", rl.AuthLimiterCount())
	}
}

func TestAuthMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := testRateLimiter(t, 1, 1)

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("general: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	rl.AuthMiddleware()(okHandler()).ServeHTTP(w, requestFrom("192.0.2.1:5555"))
	if w.Code != http.StatusOK {
		t.Errorf("auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := testRateLimiter(t, 5, 5)
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	rl.AuthMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1"))

	later := rl.now().Add(3 * time.Minute)
	rl.now = func() time.Time { return later }
	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 || rl.AuthLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.AuthLimiterCount())
	}
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 {
		t.Errorf("AuthBurst = %d, want 10", cfg.AuthBurst)
	}

	clamped := RateLimiterConfigPerMinute(0, -5)
	if clamped.GeneralBurst != 1 || clamped.AuthBurst != 1 {
		t.Errorf("bursts = %d/%d, want 1/1", clamped.GeneralBurst, clamped.AuthBurst)
	}
}
