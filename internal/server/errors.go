package server

import "errors"

// DomainError is a command rejection carried back to the originating
// session as an ERROR frame. Room state is never altered by a command that
// returns one.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

var (
	ErrRoomNotFound        = &DomainError{Code: "ROOM_NOT_FOUND", Message: "room does not exist"}
	ErrRoomFull            = &DomainError{Code: "ROOM_FULL", Message: "room is at capacity"}
	ErrAlreadyInRoom       = &DomainError{Code: "ALREADY_IN_ROOM", Message: "already seated in a room"}
	ErrNotInRoom           = &DomainError{Code: "NOT_IN_ROOM", Message: "not seated in any room"}
	ErrInvalidWager        = &DomainError{Code: "INVALID_WAGER", Message: "wager is below the minimum bet"}
	ErrAlreadyWagered      = &DomainError{Code: "ALREADY_WAGERED", Message: "wager already committed this round"}
	ErrInvalidPhase        = &DomainError{Code: "INVALID_PHASE", Message: "action not allowed in the current phase"}
	ErrInsufficientBalance = &DomainError{Code: "INSUFFICIENT_BALANCE", Message: "balance cannot cover the wager"}
)

// AsDomainError unwraps err into a DomainError if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
