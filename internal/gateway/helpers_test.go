package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pong42/platform/internal/config"
	"github.com/pong42/platform/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testServiceToken はテスト用のサービス認証情報。
	testServiceToken = "svc-token-for-tests"
	// testVerificationSecret はテスト用の検証シークレット。
	testVerificationSecret = "verification-secret-for-tests"
	// validToken は偽のAuthサービスが受理するトークン。
	validToken = "header.payload.signature"
	// rejectedToken は偽のAuthサービスが401で拒否するトークン。
	rejectedToken = "header.payload.revoked"
	// testMaxUploadBytes はテスト用のアップロード上限。
	testMaxUploadBytes = 4 << 10
)

// capturedRequest は偽の上流サービスが受け取ったリクエスト。
type capturedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// fakeService は受け取ったリクエストを記録する偽の上流サービス。
type fakeService struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	handler  http.HandlerFunc
}

// newFakeService は偽の上流サービスを起動する。handler が nil の場合は {"ok":true} を返す。
func newFakeService(t *testing.T, handler http.HandlerFunc) *fakeService {
	t.Helper()

	f := &fakeService{handler: handler}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Method:   r.Method,
			Path:     r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		})
		h := f.handler
		f.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))
		if h == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

// setHandler は応答を差し替える。
func (f *fakeService) setHandler(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// count は受け取ったリクエスト数を返す。
func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// countPath は指定パスへのリクエスト数を返す。
func (f *fakeService) countPath(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// last は最後に受け取ったリクエストを返す。
func (f *fakeService) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("上流サービスがリクエストを受け取っていません")
	}
	return f.requests[len(f.requests)-1]
}

// fakeAuthHandler は /verify を実装する偽のAuthサービスのハンドラー。
func fakeAuthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != verifyPath {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"from":"auth"}`))
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch req.Token {
	case validToken:
		_, _ = w.Write([]byte(`{"valid":true,"subject":"42","claims":{"sub":"42","username":"alice"}}`))
	case rejectedToken:
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"valid":false}`))
	default:
		_, _ = w.Write([]byte(`{"valid":false}`))
	}
}

// testGateway はテスト用のGatewayと偽の上流サービス一式。
type testGateway struct {
	server   *Server
	auth     *fakeService
	user     *fakeService
	database *fakeService
	i18n     *fakeService
}

// newTestConfig はテスト用の設定を生成する。
func newTestConfig(services config.ServicesConfig) *config.Config {
	return &config.Config{
		Port:             "0",
		FrontendURLs:     []string{"http://localhost:5173"},
		LogLevel:         "info",
		Services:         services,
		UpstreamTimeout:  2 * time.Second,
		VerifyTimeout:    2 * time.Second,
		ShutdownTimeout:  2 * time.Second,
		MaxUploadBytes:   testMaxUploadBytes,
		MaxResponseBytes: 1 << 20,
	}
}

// newTestGateway は偽の上流サービスに接続したGatewayを生成する。
// mutate で設定を変更できる。
func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()

	g := &testGateway{
		auth:     newFakeService(t, fakeAuthHandler),
		user:     newFakeService(t, nil),
		database: newFakeService(t, nil),
		i18n:     newFakeService(t, nil),
	}
	cfg := newTestConfig(config.ServicesConfig{
		Auth:     g.auth.URL,
		User:     g.user.URL,
		Database: g.database.URL,
		I18n:     g.i18n.URL,
	})
	for _, m := range mutate {
		m(cfg)
	}

	s, err := NewServer(cfg, config.Secrets{
		ServiceToken:       testServiceToken,
		VerificationSecret: testVerificationSecret,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	g.server = s
	return g
}

// do はGatewayにリクエストを送り、応答を記録して返す。
func (g *testGateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

// authed は検証に成功するBearerトークン付きのリクエストを生成する。
func authed(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+validToken)
	return req
}

// decodeError はエラー応答をデコードする。
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponse {
	t.Helper()
	var resp middleware.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("エラー応答のデコードでエラーが発生: %v (body=%s)", err, rec.Body.String())
	}
	return resp
}

// assertError はステータスコードとエラーコードを検証する。
func assertError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("ステータスコード = %d, want %d (body=%s)", rec.Code, wantStatus, rec.Body.String())
	}
	resp := decodeError(t, rec)
	if resp.Success {
		t.Error("success = true, want false")
	}
	if resp.Error != wantCode {
		t.Errorf("error = %q, want %q", resp.Error, wantCode)
	}
	if resp.Message == "" {
		t.Error("message が空です")
	}
}
