package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-attendance/internal/engine"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/report"
	"github.com/npezzotti/go-attendance/internal/types"
)

const maxBodySize = 1 << 20

type LoginRequest struct {
	ID string `json:"studentId"`
}

// Account is the authenticated caller's record.
type Account struct {
	types.Person
	Privileged bool   `json:"privileged"`
	Room       string `json:"room,omitempty"`
}

type RoomSummary struct {
	types.Room
	Occupants int              `json:"occupants"`
	LockState engine.LockState `json:"lock_state"`
}

type OccupantsResponse struct {
	RoomID    string         `json:"room_id"`
	Page      int            `json:"page"`
	Total     int            `json:"total"`
	More      bool           `json:"more"`
	Occupants []types.Person `json:"occupants"`
}

func (s *AttendanceApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *AttendanceApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

// identityError maps directory errors to API errors.
func identityError(err error) *ApiError {
	switch {
	case errors.Is(err, identity.ErrInvalidID):
		return NewBadRequestError().WithMessage("id must look like NN-NNNN-NNNNNN")
	case errors.Is(err, identity.ErrDuplicate):
		return NewConflictError().WithMessage("id is already registered")
	case errors.Is(err, identity.ErrNotFound):
		return NewNotFoundError().WithMessage("id not found")
	default:
		return NewInternalServerError(err)
	}
}

func (s *AttendanceApp) account(ctx context.Context, p types.Person) Account {
	room, _ := s.docs.Ledger(ctx).RoomOf(p.ID)
	return Account{
		Person:     p,
		Privileged: s.allow != nil && s.allow.IsPrivileged(p.ID),
		Room:       room,
	}
}

func (s *AttendanceApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Ping(r.Context()); err != nil {
		s.log.WithError(err).Error("health check")
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *AttendanceApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req types.Person
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, NewBadRequestError().WithMessage("full name is required"))
		return
	}

	p, err := s.dir.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, identityError(err))
		return
	}

	s.log.WithField("id", engine.RedactIDs(p.ID)).Info("registered identity")
	s.writeJson(w, http.StatusCreated, s.account(r.Context(), p))
}

func (s *AttendanceApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := decodeBody(w, r, &lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	id := identity.NormalizeID(lr.ID)
	if !identity.ValidID(id) {
		s.writeError(w, identityError(identity.ErrInvalidID))
		return
	}

	p, err := s.dir.Resolve(r.Context(), id)
	if err != nil {
		s.writeError(w, identityError(err))
		return
	}

	if err := s.setSessionCookie(w, p.ID); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, s.account(r.Context(), p))
}

func (s *AttendanceApp) session(w http.ResponseWriter, r *http.Request) {
	s.getAccount(w, r)
}

func (s *AttendanceApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *AttendanceApp) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	p, err := s.dir.Resolve(r.Context(), id)
	if err != nil {
		s.writeError(w, identityError(err))
		return
	}

	s.writeJson(w, http.StatusOK, s.account(r.Context(), p))
}

// updateAccount edits the caller's record. Changing the id reissues the
// session cookie for the new id.
func (s *AttendanceApp) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req types.Person
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.ID == "" {
		req.ID = id
	}

	p, err := s.dir.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, identityError(err))
		return
	}

	if p.ID != id {
		if err := s.setSessionCookie(w, p.ID); err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
	}

	s.writeJson(w, http.StatusOK, s.account(r.Context(), p))
}

func (s *AttendanceApp) getRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	rooms := s.catalog.Search(q)
	if len(rooms) == 0 && strings.TrimSpace(q) != "" {
		s.writeError(w, NewNotFoundError().WithMessage("room does not exist"))
		return
	}

	ledger := s.docs.Ledger(r.Context())
	locks := s.docs.Locks(r.Context())
	now := s.now()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := RoomSummary{Room: room, Occupants: len(ledger[room.ID]), LockState: engine.NoLock}
		if rec, ok := locks[room.ID]; ok {
			summary.LockState = engine.Evaluate(now, &rec)
		}
		summaries = append(summaries, summary)
	}

	s.writeJson(w, http.StatusOK, summaries)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

// getOccupants lists a room's occupants in join order. Privileged ids are
// redacted.
func (s *AttendanceApp) getOccupants(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if _, ok := s.catalog.Get(roomID); !ok {
		s.writeError(w, NewNotFoundError().WithMessage("room does not exist"))
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeError(w, NewBadRequestError().WithMessage("page "+err.Error()))
		return
	}
	size, err := queryInt(r, "size", engine.DefaultPageSize)
	if err != nil {
		s.writeError(w, NewBadRequestError().WithMessage("size "+err.Error()))
		return
	}

	people := engine.ResolveAll(r.Context(), s.dir, s.docs.Ledger(r.Context())[roomID])
	items, more := engine.Page(people, page, size)

	out := make([]types.Person, 0, len(items))
	for _, p := range items {
		if s.allow != nil && s.allow.IsPrivileged(p.ID) {
			p = types.Person{ID: report.Redacted, Name: p.Name}
		}
		out = append(out, p)
	}

	s.writeJson(w, http.StatusOK, OccupantsResponse{
		RoomID:    roomID,
		Page:      page,
		Total:     len(people),
		More:      more,
		Occupants: out,
	})
}

// getReport exports the attendance of a room as JSON, or as CSV with
// ?format=csv. Only privileged identities may export.
func (s *AttendanceApp) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}
	if s.allow == nil || !s.allow.IsPrivileged(id) {
		s.writeError(w, NewForbiddenError())
		return
	}

	room, ok := s.catalog.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, NewNotFoundError().WithMessage("room does not exist"))
		return
	}

	people := engine.ResolveAll(r.Context(), s.dir, s.docs.Ledger(r.Context())[room.ID])
	rep := report.Build(room, people, s.allow, s.now())

	switch r.URL.Query().Get("format") {
	case "", "json":
		s.writeJson(w, http.StatusOK, rep)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename("csv")+`"`)
		w.WriteHeader(http.StatusOK)
		if err := rep.WriteCSV(w); err != nil {
			s.log.WithError(err).Error("write csv report")
		}
	default:
		s.writeError(w, NewBadRequestError().WithMessage("format must be json or csv"))
	}
}

func (s *AttendanceApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if !s.dir.Exists(r.Context(), id) {
		s.writeError(w, identityError(identity.ErrNotFound))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	if _, err := s.hub.Connect(r.Context(), conn, id); err != nil {
		s.log.WithError(err).Warn("failed to start session")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
