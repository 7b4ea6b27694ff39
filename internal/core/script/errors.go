package script

import "errors"

var (
	ErrScriptLoad     = errors.New("script failed to load")
	ErrScriptNotFound = errors.New("script not loaded")
	ErrEmptySource    = errors.New("script source is empty")
)
