package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// ParseJSON decodes JSON from the request body into the destination.
// Unknown fields are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// DecodeAndValidate parses the body into dest and runs the struct tags of
// dest through v. On failure it writes a 400 listing each offending field.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dest interface{}) bool {
	if !ParseJSONOrError(w, r, dest) {
		return false
	}
	if err := v.Struct(dest); err != nil {
		WriteValidationErrors(w, err)
		return false
	}
	return true
}

// WriteValidationErrors writes validator failures as a 400 with one detail
// per field
func WriteValidationErrors(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		WriteBadRequest(w, err.Error())
		return
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	WriteErrorResponse(w, http.StatusBadRequest, ErrorResponse{
		Error:   "request validation failed",
		Code:    "INVALID_REQUEST",
		Details: details,
	})
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathStringOrError extracts a string path parameter and writes error on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// ParseQueryString extracts a trimmed string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// SiteFromRequest returns the site scope of a request: the site_id path
// variable, then the site_id query parameter, then the X-Site-ID header.
// An empty result means org scope.
func SiteFromRequest(r *http.Request) string {
	if site := mux.Vars(r)["site_id"]; site != "" {
		return site
	}
	if site := ParseQueryString(r, "site_id", ""); site != "" {
		return site
	}
	return strings.TrimSpace(r.Header.Get("X-Site-ID"))
}
