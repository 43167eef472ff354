package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-attendance/internal/catalog"
	"github.com/npezzotti/go-attendance/internal/config"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/report"
	"github.com/npezzotti/go-attendance/internal/server"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/sirupsen/logrus"
)

// AttendanceApp serves the HTTP API, the websocket endpoint and the
// remote authority endpoints over one set of shared documents.
type AttendanceApp struct {
	log            logrus.FieldLogger
	docs           *store.Documents
	dir            *identity.Directory
	catalog        *catalog.Catalog
	allow          report.Privileges
	hub            *server.Hub
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
	now            func() time.Time
}

func NewAttendanceApp(
	mux *http.ServeMux,
	logger logrus.FieldLogger,
	hub *server.Hub,
	docs *store.Documents,
	dir *identity.Directory,
	cat *catalog.Catalog,
	allow report.Privileges,
	cfg *config.Config,
) *AttendanceApp {
	s := &AttendanceApp{
		log:            logger,
		docs:           docs,
		dir:            dir,
		catalog:        cat,
		allow:          allow,
		hub:            hub,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		now:            time.Now,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/account", s.authMiddleware(s.getAccount))
	mux.Handle("PUT /api/account", s.authMiddleware(s.updateAccount))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRooms))
	mux.Handle("GET /api/rooms/{id}/occupants", s.authMiddleware(s.getOccupants))
	mux.Handle("GET /api/rooms/{id}/report", s.authMiddleware(s.getReport))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	mux.HandleFunc("GET /api/db", s.getDirectory)
	mux.HandleFunc("GET /api/user/{id}", s.getPerson)
	mux.HandleFunc("POST /api/register", s.putPerson)
	mux.HandleFunc("GET /api/attendance", s.getAttendance)
	mux.HandleFunc("POST /api/attendance", s.putAttendance)
	mux.HandleFunc("GET /api/roomLocks", s.getRoomLocks)
	mux.HandleFunc("POST /api/roomLocks", s.putRoomLocks)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped handler served by Start.
func (s *AttendanceApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *AttendanceApp) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("starting server")
	return s.srv.ListenAndServe()
}

func (s *AttendanceApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
