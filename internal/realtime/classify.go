package realtime

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
)

var retryableCloseCodes = map[int]bool{
	websocket.CloseNormalClosure:     true,
	websocket.CloseGoingAway:         true,
	websocket.CloseAbnormalClosure:   true,
	websocket.CloseInternalServerErr: true,
	websocket.CloseServiceRestart:    true,
	websocket.CloseTryAgainLater:     true,
}

// Retryable reports whether a connection failure is a network or I/O
// condition worth reconnecting after. Protocol violations, rejected
// handshakes and anything unrecognized are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return retryableCloseCodes[closeErr.Code]
	}
	var (
		ce *apperr.ClientError
		pe *apperr.ParseError
	)
	if errors.As(err, &ce) || errors.As(err, &pe) {
		return false
	}
	return apperr.IsTransient(err)
}
