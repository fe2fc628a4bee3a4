package errs

import "errors"

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrNotFound            = errors.New("not found")
	ErrNotParticipant      = errors.New("not a participant")
	ErrPayloadInvalid      = errors.New("payload invalid")
	ErrBlocked             = errors.New("blocked")
	ErrDeleteWindowExpired = errors.New("delete window expired")
	ErrTransientDelivery   = errors.New("transient delivery failure")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInternal            = errors.New("internal error")
)
