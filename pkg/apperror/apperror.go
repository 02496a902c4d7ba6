package apperror

import "net/http"

// GenericError is the contract the REST layer maps onto HTTP responses.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type UnauthorizedError string

func (err UnauthorizedError) Error() string   { return string(err) }
func (err UnauthorizedError) ErrCode() string { return "UNAUTHORIZED" }
func (err UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

type ForbiddenError string

func (err ForbiddenError) Error() string   { return string(err) }
func (err ForbiddenError) ErrCode() string { return "FORBIDDEN" }
func (err ForbiddenError) StatusCode() int { return http.StatusForbidden }

// NotReadyError: se intentó enviar por una sesión que no está en ready.
type NotReadyError string

func (err NotReadyError) Error() string   { return string(err) }
func (err NotReadyError) ErrCode() string { return "SESSION_NOT_READY" }
func (err NotReadyError) StatusCode() int { return http.StatusConflict }

type InternalServerError string

func (err InternalServerError) Error() string   { return string(err) }
func (err InternalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalServerError) StatusCode() int { return http.StatusInternalServerError }
