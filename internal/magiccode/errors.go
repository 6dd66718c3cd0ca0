package magiccode

import "errors"

var (
	ErrRateLimited      = errors.New("magiccode: rate limited")
	ErrInvalidCode      = errors.New("magiccode: invalid code")
	ErrExpired          = errors.New("magiccode: code expired")
	ErrSupplierInactive = errors.New("magiccode: supplier inactive")
	ErrNotFound         = errors.New("magiccode: not found")
)
