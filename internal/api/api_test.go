package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erilali/relay/internal/hub"
	"github.com/erilali/relay/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, verifier *TokenVerifier) (*Server, *httptest.Server) {
	t.Helper()
	policy := OriginPolicy{Origins: []string{"http://localhost:5173", "https://alokikpalghar.com/"}, AllowCredentials: true}
	h := hub.NewHub(hub.Options{CheckOrigin: policy.CheckOrigin}, nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	s := &Server{Hub: h, Policy: policy, Verifier: verifier, Logger: logger.Nop()}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		h.Shutdown(shutdownCtx)
		cancel()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestOriginPolicy(t *testing.T) {
	p := OriginPolicy{Origins: []string{"https://alokikpalghar.com/", "http://localhost:5173"}}

	assert.True(t, p.Allowed("https://alokikpalghar.com"))
	assert.True(t, p.Allowed("http://localhost:5173/"))
	assert.False(t, p.Allowed("http://evil.test"))
	assert.False(t, p.Allowed(""))
	assert.True(t, OriginPolicy{Origins: []string{"*"}}.Allowed("http://anything.test"))
	assert.False(t, OriginPolicy{}.Allowed("http://localhost:5173"))

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, p.CheckOrigin(r), "no Origin header")
	r.Header.Set("Origin", "http://evil.test")
	assert.False(t, p.CheckOrigin(r))
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	t.Run("allowed origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/online", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
		req.Header.Set("Origin", "http://evil.test")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHealthAndOnline(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "newUser", "data": "u1"}))
	require.Eventually(t, func() bool { return s.Hub.Registry().Has("u1") }, 2*time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "disconnected", health["nats"])
	assert.EqualValues(t, 1, health["online"])
	assert.EqualValues(t, 1, health["connections"])

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/online", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var online struct {
		Users []struct {
			UserID       string `json:"userId"`
			ConnectionID string `json:"connectionId"`
		} `json:"users"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &online))
	require.Len(t, online.Users, 1)
	assert.Equal(t, "u1", online.Users[0].UserID)
	assert.NotEmpty(t, online.Users[0].ConnectionID)
	assert.Equal(t, 1, online.Count)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, nil)

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketHandshakeAuth(t *testing.T) {
	s, ts := newTestServer(t, NewTokenVerifier(testSecret, true))

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad signature", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"id": "u1"}, "other-secret")
		header := http.Header{"Authorization": []string{"Bearer " + token}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("cookie token binds subject", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"id": "u1"}, testSecret)
		header := http.Header{"Cookie": []string{"token=" + token}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "newUser", "data": "u2"}))
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "newUser", "data": "u1"}))
		require.Eventually(t, func() bool { return s.Hub.Registry().Has("u1") }, 2*time.Second, 10*time.Millisecond)
		assert.False(t, s.Hub.Registry().Has("u2"))
	})
}

func TestTokenVerifierSubject(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)

	req := func(query string, header http.Header, cookie string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws"+query, nil)
		for k, vals := range header {
			r.Header[k] = vals
		}
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: "token", Value: cookie})
		}
		return r
	}

	sub, err := v.Subject(req("?token="+signToken(t, jwt.MapClaims{"sub": "u9"}, testSecret), nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "u9", sub)

	sub, err = v.Subject(req("", http.Header{"Authorization": {"Bearer " + signToken(t, jwt.MapClaims{"id": float64(7)}, testSecret)}}, ""))
	require.NoError(t, err)
	assert.Equal(t, "7", sub)

	_, err = v.Subject(req("", nil, signToken(t, jwt.MapClaims{"id": "u1"}, testSecret)))
	assert.ErrorIs(t, err, ErrMissingToken, "cookies ignored without credentials")

	_, err = v.Subject(req("?token="+signToken(t, jwt.MapClaims{"role": "x"}, testSecret), nil, ""))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := signToken(t, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret)
	_, err = v.Subject(req("?token="+expired, nil, ""))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
