package httpx

import "net/http"

// Problem writers for the response categories shared by the API handlers.
// Handlers map their domain sentinels onto one of these; the detail carries
// the rule-specific message.

// BadRequest writes a 400 validation problem.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Validation Failed", detail)
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 duplicate problem.
func Conflict(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusConflict, "Duplicate", detail)
}

// Unprocessable writes a 422 business rule problem.
func Unprocessable(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusUnprocessableEntity, "Business Rule Violation", detail)
}

// Internal writes a 500 problem with no detail. The cause belongs in the
// server log, not the response.
func Internal(w http.ResponseWriter) {
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
