package api

import (
	"net/http"

	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/remote"
	"github.com/npezzotti/go-attendance/internal/types"
)

// The handlers below let this deployment act as the remote authority of
// another one. They speak the remote.Envelope format.

func (s *AttendanceApp) writeEnvelope(w http.ResponseWriter, statusCode int, env remote.Envelope) {
	env.OK = statusCode >= 200 && statusCode <= 299
	s.writeJson(w, statusCode, env)
}

func (s *AttendanceApp) getDirectory(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, http.StatusOK, remote.Envelope{DB: s.docs.Directory(r.Context())})
}

func (s *AttendanceApp) getPerson(w http.ResponseWriter, r *http.Request) {
	p, err := s.dir.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEnvelope(w, http.StatusNotFound, remote.Envelope{Error: "user not found"})
		return
	}

	s.writeEnvelope(w, http.StatusOK, remote.Envelope{User: &p})
}

func (s *AttendanceApp) putPerson(w http.ResponseWriter, r *http.Request) {
	var p types.Person
	if err := decodeBody(w, r, &p); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, remote.Envelope{Error: "invalid body"})
		return
	}
	if !identity.ValidID(identity.NormalizeID(p.ID)) {
		s.writeEnvelope(w, http.StatusBadRequest, remote.Envelope{Error: "invalid id"})
		return
	}

	if err := s.dir.Upsert(r.Context(), p); err != nil {
		s.writeEnvelope(w, http.StatusInternalServerError, remote.Envelope{Error: err.Error()})
		return
	}

	s.writeEnvelope(w, http.StatusOK, remote.Envelope{})
}

func (s *AttendanceApp) getAttendance(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, http.StatusOK, remote.Envelope{Attendance: s.docs.Ledger(r.Context())})
}

func (s *AttendanceApp) putAttendance(w http.ResponseWriter, r *http.Request) {
	var body remote.LedgerBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, remote.Envelope{Error: "invalid body"})
		return
	}
	if body.Attendance == nil {
		body.Attendance = types.Ledger{}
	}

	s.docs.SaveLedger(r.Context(), body.Attendance)
	s.writeEnvelope(w, http.StatusOK, remote.Envelope{})
}

func (s *AttendanceApp) getRoomLocks(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, http.StatusOK, remote.Envelope{Locks: s.docs.Locks(r.Context())})
}

func (s *AttendanceApp) putRoomLocks(w http.ResponseWriter, r *http.Request) {
	var body remote.LocksBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, remote.Envelope{Error: "invalid body"})
		return
	}
	if body.Locks == nil {
		body.Locks = types.LockTable{}
	}

	s.docs.SaveLocks(r.Context(), body.Locks)
	s.writeEnvelope(w, http.StatusOK, remote.Envelope{})
}
