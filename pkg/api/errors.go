package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/response"
)

type errorKind struct {
	target  error
	status  int
	message string
}

var errorKinds = []errorKind{
	{common.ErrorAuthorizationFailed, http.StatusUnauthorized, response.MsgAuthError},
	{common.ErrorNoPermission, http.StatusForbidden, response.MsgNoPermission},
	{common.ErrorMissingField, http.StatusBadRequest, response.MsgMissing},
	{common.ErrorInvalidRequest, http.StatusBadRequest, response.MsgInvalid},
	{common.ErrorConflict, http.StatusConflict, response.MsgConflict},
	{common.ErrorNotFound, http.StatusNotFound, response.MsgNoData},
	{common.ErrorRequirementNotMet, http.StatusBadRequest, response.MsgRequirementNotMet},
}

// writeError maps err onto one of the fixed outcomes. Anything unknown is
// logged and answered with FAILED, without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	token := auth.CredentialFrom(r.Context()).String()
	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			log.DebugContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", kind.status, "error", err)
			response.Write(w, kind.status, response.New(false, kind.message, nil, token))
			return
		}
	}
	log.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	response.Write(w, http.StatusInternalServerError, response.New(false, response.MsgFailed, nil, token))
}
