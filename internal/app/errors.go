package app

import (
	"errors"
	"log"
	"net/http"

	"comicsdb/api/internal/auth"
	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/store"
)

var kindStatus = map[oi.ErrorKind]int{
	oi.KindConflict:   http.StatusConflict,
	oi.KindQuota:      http.StatusTooManyRequests,
	oi.KindPermission: http.StatusForbidden,
	oi.KindValidation: http.StatusUnprocessableEntity,
	oi.KindNotFound:   http.StatusNotFound,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *oi.DomainError
	if errors.As(err, &domainErr) {
		status, ok := kindStatus[domainErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, message, details)
}
