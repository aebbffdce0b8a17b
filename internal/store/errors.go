package store

import "errors"

var (
	ErrNoTicket       = errors.New("no ticket available")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrPrintFailed    = errors.New("ticket print failed")
	ErrTransient      = errors.New("transient storage failure")
	ErrInvalidClass   = errors.New("invalid patient class")
)
