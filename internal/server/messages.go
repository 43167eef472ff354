package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-attendance/internal/engine"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join      *Join      `json:"join,omitempty"`
	Leave     *Leave     `json:"leave,omitempty"`
	Timer     *Timer     `json:"timer,omitempty"`
	Occupants *Occupants `json:"occupants,omitempty"`
	Status    *Status    `json:"status,omitempty"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct{}

// Timer arms the lock timer of the current room. Minutes is the raw user
// input and is parsed server side.
type Timer struct {
	Minutes string `json:"minutes"`
}

type Occupants struct {
	RoomId string `json:"room_id"`
	Page   int    `json:"page,omitempty"`
	Size   int    `json:"size,omitempty"`
}

type Status struct{}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Message    *Message           `json:"message,omitempty"`
	LockStatus *engine.LockStatus `json:"lock_status,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type OccupantsPage struct {
	RoomId    string `json:"room_id"`
	Page      int    `json:"page"`
	Total     int    `json:"total"`
	More      bool   `json:"more"`
	Occupants any    `json:"occupants"`
}

type StatusData struct {
	Session    engine.Session    `json:"session"`
	LockStatus engine.LockStatus `json:"lock_status"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

// ErrResponse maps an engine error to a response code. Unknown errors are
// reported as internal errors without their text.
func ErrResponse(id int, err error) *ServerMessage {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotAuthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, engine.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrRoomLocked):
		code = http.StatusLocked
	}

	text := "internal server error"
	if code != http.StatusInternalServerError {
		text = err.Error()
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func MessageNotification(text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Message: &Message{Text: text},
		},
	}
}

func LockStatusNotification(s engine.LockStatus) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			LockStatus: &s,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
