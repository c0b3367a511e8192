package sandbox

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindMissingEntryPoint ErrorKind = "missing_entry_point"
	KindSyntax            ErrorKind = "syntax_error"
	KindValidation        ErrorKind = "validation_failed"
)

var (
	ErrMissingEntryPoint = errors.New("missing entry point")
	ErrSyntax            = errors.New("syntax error")
	ErrValidationFailed  = errors.New("validation failed")
)

// CompileError любая ошибка компиляции блокирует создание комнат для игры
type CompileError struct {
	Game   string
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s: %s", e.Game, e.Kind, e.Detail)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с сентинелом ее вида
func (e *CompileError) Is(target error) bool {
	switch e.Kind {
	case KindMissingEntryPoint:
		return target == ErrMissingEntryPoint
	case KindSyntax:
		return target == ErrSyntax
	case KindValidation:
		return target == ErrValidationFailed
	}
	return false
}

func missingEntryPoint(game, detail string) *CompileError {
	return &CompileError{Game: game, Kind: KindMissingEntryPoint, Detail: detail}
}

func syntaxError(game string, err error) *CompileError {
	return &CompileError{Game: game, Kind: KindSyntax, Detail: err.Error(), Err: err}
}

func validationFailed(game, detail string, err error) *CompileError {
	return &CompileError{Game: game, Kind: KindValidation, Detail: detail, Err: err}
}
