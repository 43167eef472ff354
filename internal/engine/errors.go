package engine

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRoomLocked       = errors.New("room is locked")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
)
