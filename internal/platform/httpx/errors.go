package httpx

import (
	"errors"
	"net/http"

	"github.com/dentora-hq/dentora/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var lineErrs *shared.LineErrors
	var shortage *shared.StockShortageError

	switch {
	case errors.As(err, &shortage):
		ProblemWith(w, http.StatusUnprocessableEntity, "Insufficient Stock", shortage.Error(), shortage.Shortages)
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.As(err, &lineErrs):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", "one or more lines are invalid", lineErrs.Lines())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
