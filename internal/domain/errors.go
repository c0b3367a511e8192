package domain

import "errors"

var (
	ErrRoomFull         = errors.New("room is full")
	ErrRoomFinished     = errors.New("room is finished")
	ErrRoomNotActive    = errors.New("room is not active")
	ErrRoomNotFound     = errors.New("room not found")
	ErrPlayerNotInRoom  = errors.New("player is not in room")
	ErrNotInQueue       = errors.New("player is not in queue")
	ErrTicketExpired    = errors.New("ticket expired")
	ErrTicketRegress    = errors.New("ticket status cannot regress")
	ErrAlreadyQueued    = errors.New("player already queued")
	ErrUnknownGame      = errors.New("unknown game")
	ErrNotEnoughPlayers = errors.New("not enough players")
)
