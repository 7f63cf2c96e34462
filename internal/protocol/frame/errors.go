package frame

import "errors"

var (
	ErrInvalidLength   = errors.New("frame: invalid payload length")
	ErrHeaderOverflow  = errors.New("frame: length does not fit header width")
	ErrInvalidHeader   = errors.New("frame: invalid header")
	ErrShortHeader     = errors.New("frame: short header")
	ErrShortPayload    = errors.New("frame: short payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrInvalidPart   = errors.New("frame: invalid part")
	ErrProtocol        = errors.New("frame: protocol violation")
)
