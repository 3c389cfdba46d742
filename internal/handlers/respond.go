package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/pkg/api"
)

// statusByCode is the single place where canonical machine codes become
// HTTP status codes.
var statusByCode = map[string]int{
	errs.CodeUnauthenticated:    http.StatusUnauthorized,
	errs.CodeInvalidArgument:    http.StatusBadRequest,
	errs.CodeFailedPrecondition: http.StatusPreconditionFailed,
	errs.CodeNotFound:           http.StatusNotFound,
	errs.CodeInternal:           http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the uniform error envelope. Untyped errors surface as a
// bare INTERNAL so substrate details never leak to callers.
func writeError(logger *zap.Logger, w http.ResponseWriter, err error) {
	e, ok := errs.As(err)
	if !ok {
		logger.Error("Unclassified error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, api.ErrorBody{
			Error: api.ErrorDetail{Code: errs.CodeInternal, Message: "internal error"},
		})
		return
	}

	if e.Kind == errs.KindExternal {
		logger.Error("Substrate error", zap.Error(err))
	}

	status, known := statusByCode[e.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, api.ErrorBody{
		Error: api.ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
			Field:   e.Field,
			Reason:  e.Reason,
		},
	})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("body", "invalid JSON payload")
	}
	return nil
}
