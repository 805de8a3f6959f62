// Provides common mural errors definitions.
package mural_errors

import "errors"

var (
	ErrMalformedRecord = errors.New("mural: malformed transaction record")
	ErrUnknownTool     = errors.New("mural: unknown tool code")
	ErrBadMoment       = errors.New("mural: bad moment record")
	ErrBadMessage      = errors.New("mural: bad wire message")
	ErrIncomplete      = errors.New("mural: incomplete data")
	ErrBadZip          = errors.New("mural: bad zipped integer")
	ErrOverflow        = errors.New("mural: decoded data exceeds the buffer")
	ErrRoomUnknown     = errors.New("mural: unknown room")
	ErrRoomFull        = errors.New("mural: room is full")
	ErrClosed          = errors.New("mural: closed")
)
