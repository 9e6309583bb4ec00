package domain

import "errors"

var (
	ErrAlreadyActive      = errors.New("broadcast session already active")
	ErrUnauthorized       = errors.New("identity lacks broadcast capability")
	ErrNotHolder          = errors.New("caller does not hold the broadcaster role")
	ErrNoActiveSession    = errors.New("no active broadcast session")
	ErrMediaUnavailable   = errors.New("local audio source unavailable")
	ErrNegotiationTimeout = errors.New("no offer received within wait window")
	ErrConnectionFailed   = errors.New("peer connection failed")
	ErrStaleMessage       = errors.New("message arrived for a closed or settled link")
	ErrLinkNotFound       = errors.New("peer link not found")
	ErrPartyNotConnected  = errors.New("party not connected")
)
