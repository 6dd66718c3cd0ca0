package workflow

import "errors"

var (
	ErrNotFound               = errors.New("workflow: not found")
	ErrInvalidTransition      = errors.New("workflow: invalid transition")
	ErrQuotationStateConflict = errors.New("workflow: quotation state conflict")
	ErrInvalidAmount          = errors.New("workflow: amount must be > 0")
	ErrReasonRequired         = errors.New("workflow: decline reason required")
	ErrInvalidInput           = errors.New("workflow: invalid input")
)
