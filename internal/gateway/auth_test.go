package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/pong42/platform/pkg/metrics"
	"github.com/pong42/platform/pkg/middleware"
)

// stubVerifier は固定の結果を返す Verifier。
type stubVerifier struct {
	id    *Identity
	err   error
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (*Identity, error) {
	s.calls++
	return s.id, s.err
}

func TestAllowList(t *testing.T) {
	t.Parallel()

	a := NewAllowList(append(DefaultPublicPaths, "", "/api/user/public/", "/health")...)

	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/metrics", false},
		{"/api/auth/login", true},
		{"/api/auth/login/", true},
		{"/api/auth/oauth/google/callback", true},
		{"/api/i18n/translations/ja", true},
		{"/api/user/public/ranking", true},
		{"/api/auth/loginx", false},
		{"/api/auth/me", false},
		{"/api/user/me", false},
		{"/healthz", false},
		{"/api/auth/login/../../user/me", false},
		{"/api/auth/login/./x", false},
		{"/api/auth/login//x", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.Allows(tt.path); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if got := len(a.Prefixes()); got != len(DefaultPublicPaths)+1 {
		t.Errorf("接頭辞の数 = %d, want %d", got, len(DefaultPublicPaths)+1)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		wantOK bool
	}{
		{"Bearer a.b.c", "a.b.c", true},
		{"bearer a.b.c", "a.b.c", true},
		{"  Bearer   a.b.c  ", "a.b.c", true},
		{"Basic a.b.c", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWellFormedToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		want  bool
	}{
		{"eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiI0MiJ9.sig", true},
		{"a.b.c", true},
		{"a.b", false},
		{"a.b.c.d", false},
		{".b.c", false},
		{"a..c", false},
		{"a.b.", false},
		{"a.b c.d", false},
		{"opaque-token", false},
	}
	for _, tt := range tests {
		if got := wellFormedToken(tt.token); got != tt.want {
			t.Errorf("wellFormedToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

// newGatekeeperRouter はGatekeeperの後ろに識別情報を返すハンドラーを置いたルーターを生成する。
func newGatekeeperRouter(v Verifier, collector *metrics.Collector) *gin.Engine {
	gk := NewGatekeeper(NewAllowList(DefaultPublicPaths...), v, collector, zap.NewNop())
	router := gin.New()
	router.Use(middleware.RequestID(), gk.Middleware())
	router.Any("/*path", func(c *gin.Context) {
		id := IdentityFrom(c)
		if id == nil {
			c.String(http.StatusOK, "public")
			return
		}
		c.String(http.StatusOK, id.Subject+":"+middleware.GetUserID(c))
	})
	return router
}

func TestGatekeeper(t *testing.T) {
	t.Parallel()

	t.Run("公開パスでは検証者を呼ばずIdentityを設定しない", func(t *testing.T) {
		t.Parallel()

		v := &stubVerifier{}
		collector := metrics.NewCollector()
		router := newGatekeeperRouter(v, collector)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.Header.Set("Authorization", "Bearer a.b.c")
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Body.String() != "public" {
			t.Errorf("応答 = (%d, %q), want (200, %q)", rec.Code, rec.Body.String(), "public")
		}
		if v.calls != 0 {
			t.Errorf("検証者の呼び出し数 = %d, want 0", v.calls)
		}
		if got := testutil.ToFloat64(collector.AuthCounter(metrics.OutcomePublic)); got != 1 {
			t.Errorf("public = %v, want 1", got)
		}
	})

	t.Run("検証に成功した場合はIdentityとユーザーIDを設定する", func(t *testing.T) {
		t.Parallel()

		v := &stubVerifier{id: &Identity{Subject: "42", Claims: map[string]any{"sub": "42"}}}
		collector := metrics.NewCollector()
		router := newGatekeeperRouter(v, collector)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.Header.Set("Authorization", "Bearer a.b.c")
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Body.String() != "42:42" {
			t.Errorf("応答 = (%d, %q), want (200, %q)", rec.Code, rec.Body.String(), "42:42")
		}
		if v.calls != 1 {
			t.Errorf("検証者の呼び出し数 = %d, want 1", v.calls)
		}
		if got := testutil.ToFloat64(collector.AuthCounter(metrics.OutcomeAuthenticated)); got != 1 {
			t.Errorf("authenticated = %v, want 1", got)
		}
	})

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantOutcome string
	}{
		{"拒否された場合は401", ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken, metrics.OutcomeRejected},
		{"検証者が利用できない場合は502", ErrVerifierUnavailable, http.StatusBadGateway, CodeAuthServiceUnavailable, metrics.OutcomeUnavailable},
		{"未知のエラーは502", errors.New("boom"), http.StatusBadGateway, CodeAuthServiceUnavailable, metrics.OutcomeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			collector := metrics.NewCollector()
			router := newGatekeeperRouter(&stubVerifier{err: tt.err}, collector)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
			req.Header.Set("Authorization", "Bearer a.b.c")
			router.ServeHTTP(rec, req)

			assertError(t, rec, tt.wantStatus, tt.wantCode)
			if got := testutil.ToFloat64(collector.AuthCounter(tt.wantOutcome)); got != 1 {
				t.Errorf("%s = %v, want 1", tt.wantOutcome, got)
			}
		})
	}
}
