package types

import "errors"

// Error kinds shared by every stage. Callers match them with errors.Is.
var (
	ErrTransport  = errors.New("transport error")
	ErrParse      = errors.New("parse error")
	ErrPlanIO     = errors.New("plan unavailable")
	ErrFilesystem = errors.New("filesystem error")
)
