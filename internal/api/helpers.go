package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxBodyBytes bounds request bodies. Definitions carry HTML content, so
// the limit is generous.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into dst and writes the error reply
// itself. It returns false when the handler must stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RequestTooLargeError(w, r, "request body too large")
			return false
		}
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
