package nodehttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fedi3/fedi3/internal/apperr"
)

const activityJSONType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

func writeJSON(w http.ResponseWriter, status int, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeActivityJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, activityJSONType, v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, "application/json", map[string]string{
		"error":   code,
		"message": message,
	})
}

// writeAppError maps an apperr.Error (or any error) to its HTTP status and
// logs internal-kind failures at error level.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)
	msg := err.Error()
	if e, ok := apperr.As(err); ok {
		msg = e.Message
		if kind == apperr.Internal {
			logger.ErrorContext(r.Context(), "internal error", slog.String("detail", e.Detail))
		}
	}
	writeError(w, status, string(kind), msg)
}
