// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/pkg/errutil"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// clientErrors maps service sentinels to statuses. The sentinel text is the
// message shown to clients.
var clientErrors = []struct {
	target error
	status int
}{
	{auth.ErrMissingFields, http.StatusBadRequest},
	{auth.ErrPasswordMismatch, http.StatusBadRequest},
	{auth.ErrPasswordTooShort, http.StatusBadRequest},
	{auth.ErrPasswordTooLong, http.StatusBadRequest},
	{auth.ErrEmailNotAllowed, http.StatusBadRequest},
	{auth.ErrDuplicateEmail, http.StatusConflict},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrSessionNotFound, http.StatusUnauthorized},
}

// writeError renders err. Anything not a known client error is logged and
// reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, ce := range clientErrors {
		if errors.Is(err, ce.target) {
			code := errutil.Code(err)
			if code == "" {
				code = http.StatusText(ce.status)
			}
			writeJSON(w, ce.status, errorResponse{Error: ce.target.Error(), Code: code})
			return
		}
	}

	errutil.LogError(s.logger.With("path", r.URL.Path), "request failed", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: "internal error",
		Code:  "INTERNAL",
	})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "request body must be a JSON object",
			Code:  "BAD_REQUEST",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}
