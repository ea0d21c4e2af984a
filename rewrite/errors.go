package rewrite

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidRoot is returned by Options.Validate when root is not an
	// existing directory. It is never subject to fail/silent policy.
	ErrInvalidRoot = errors.New("root option does not resolve to a valid directory")
	// ErrNoSourceMapInfo means inbound map has no source for a declaration
	// which has url() statements.
	ErrNoSourceMapInfo = errors.New("source-map information is not available at url() declaration")
	// ErrProcessing wraps failures of the CSS processing pass.
	ErrProcessing = errors.New("processing failed")
)

// CannotOperateError carries recoverable failure. Content is returned
// unchanged whenever it is produced.
type CannotOperateError struct {
	Label string
	Err   error
}

func (e *CannotOperateError) Error() string {
	var sb strings.Builder
	sb.WriteString("resolve-url cannot operate: ")
	sb.WriteString(e.Label)
	if e.Err != nil {
		sb.WriteString("\n  ")
		sb.WriteString(strings.ReplaceAll(e.Err.Error(), "\n", "\n  "))
	}
	return sb.String()
}

func (e *CannotOperateError) Unwrap() error {
	return e.Err
}
