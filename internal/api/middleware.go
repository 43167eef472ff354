package api

import (
	"fmt"
	"net/http"

	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/sirupsen/logrus"
)

// errorHandler turns a handler panic into a 500 and closes the connection.
func (s *AttendanceApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			s.log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Errorf("panic: %v", err)

			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware admits requests carrying a valid session cookie and stores
// the identity it names in the request context.
func (s *AttendanceApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenCookie, err := r.Cookie(tokenCookieKey)
		if err != nil {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		id, err := s.extractIdentityFromToken(tokenCookie.Value)
		if err == nil && !identity.ValidID(id) {
			err = fmt.Errorf("malformed identity %q", id)
		}
		if err != nil {
			s.log.WithError(err).WithField("path", r.URL.Path).Info("failed to extract identity from token")
			s.writeError(w, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}
