package rbac

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
)

// RespondError maps RBAC errors to problem responses and falls back to
// httpx.RespondError for transport errors.
func RespondError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrLastAdmin):
		httpx.Problem(w, http.StatusConflict, "Last Administrator", err.Error())
	case errors.Is(err, ErrUnknownPermission):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Permission", err.Error())
	case errors.As(err, &validation):
		httpx.FieldProblem(w, map[string]string{validation.Field: validation.Message})
	default:
		httpx.RespondError(w, err)
	}
}
