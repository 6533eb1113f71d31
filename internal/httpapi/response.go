// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/types"
)

// ErrorEnvelope is the uniform shape every error response carries (§9):
// error/code/detail plus the request id for correlation with logs.
type ErrorEnvelope struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates err into the uniform envelope, mapping the
// taxonomy code to its HTTP status exactly once, at this boundary.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var apiErr *types.Error
	if !errors.As(err, &apiErr) {
		apiErr = types.NewError(types.ErrInternal, "unexpected internal error").WithCause(err)
	}

	requestID, _ := types.RequestID(r.Context())
	status := apiErr.HTTPStatus()

	if status >= 500 {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(apiErr.Code)),
			zap.String("request_id", requestID),
			zap.Error(apiErr.Cause),
		)
	} else {
		logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", string(apiErr.Code)),
			zap.String("request_id", requestID),
		)
	}

	if apiErr.Code == types.ErrRateLimited && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}

	writeJSON(w, status, ErrorEnvelope{
		Error:     apiErr.Message,
		Code:      string(apiErr.Code),
		Detail:    apiErr.Detail,
		RequestID: requestID,
	})
}
