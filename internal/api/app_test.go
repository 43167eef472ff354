package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-attendance/internal/catalog"
	"github.com/npezzotti/go-attendance/internal/config"
	"github.com/npezzotti/go-attendance/internal/engine"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/server"
	"github.com/npezzotti/go-attendance/internal/stats"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/npezzotti/go-attendance/internal/testutil"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	ownerID  = "11-1111-111111"
	secondID = "12-0000-000002"
	thirdID  = "12-0000-000003"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) *AttendanceApp {
	logger := testutil.TestLogger(t)
	docs := store.NewDocuments(store.NewMemoryBackend(), logger)
	dir := identity.NewDirectory(docs)
	ctx := context.Background()

	require.NoError(t, dir.Upsert(ctx, types.Person{ID: ownerID, Name: "Zesty Kein Mondia", Section: "A", Course: "BSIT"}))
	require.NoError(t, dir.Upsert(ctx, types.Person{ID: secondID, Name: "Ann Cruz", Section: "B", Course: "BSIT"}))
	require.NoError(t, dir.Upsert(ctx, types.Person{ID: thirdID, Name: "Ben Diaz", Section: "B", Course: "BSCS"}))

	allow := identity.NewAllowList([]string{ownerID})
	cat := catalog.Default()

	hub := server.NewHub(logger, stats.NewMockStats(), func(n engine.Notifier, log logrus.FieldLogger) (server.Session, error) {
		e, err := engine.New(docs, cat, dir, allow, n, log, engine.WithTickInterval(10*time.Millisecond))
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	app := NewAttendanceApp(http.NewServeMux(), logger, hub, docs, dir, cat, allow, &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	app.now = func() time.Time { return testNow }
	return app
}

func (s *AttendanceApp) cookieFor(t *testing.T, id string) *http.Cookie {
	token, err := s.createJwtForSession(id, defaultJwtExpiration)
	require.NoError(t, err, "expected token to be created")
	return createJwtCookie(token, defaultJwtExpiration)
}

// do sends a request through the full middleware chain.
func (s *AttendanceApp) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "expected a JSON body")
	return v
}

// findCookie returns the named cookie set on the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
