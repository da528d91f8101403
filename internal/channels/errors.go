package channels

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrChannelNotFound = fmt.Errorf("channel %w", ErrNotFound)
	ErrAgentNotFound   = fmt.Errorf("agent %w", ErrNotFound)

	ErrForbidden       = errors.New("forbidden")
	ErrNoTenant        = errors.New("no client associated with caller")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrNotConnected    = errors.New("instance not connected")
	ErrPersistence     = errors.New("persistence failure")
	ErrLinkInProgress  = errors.New("link already in progress for instance")
)
