package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeSchema     ErrCode = "schema_error"
	CodeValidation ErrCode = "validation_error"
	CodeNotFound   ErrCode = "not_found"
	CodeConflict   ErrCode = "conflict"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

// ErrSchema reports a required field that is absent or has the wrong semantic type.
func ErrSchema(table string, row int, field, msg string) error {
	return &AppError{
		Code:    CodeSchema,
		Message: msg,
		Meta: map[string]string{
			"table": table,
			"row":   fmt.Sprint(row),
			"field": field,
		},
	}
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}
func ErrNotFound(msg string) error { return &AppError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) error { return &AppError{Code: CodeConflict, Message: msg} }
func ErrConflictMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeConflict, Message: msg, Meta: meta}
}

// IsCode reports whether err is an *AppError carrying code.
func IsCode(err error, code ErrCode) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}
