package keycloak

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotAuthenticated is returned by every admin call made before a token was obtained.
	ErrNotAuthenticated = errors.New("keycloak client is not authenticated")

	// ErrNotFound is returned when a resource that later steps depend on cannot be resolved.
	ErrNotFound = errors.New("not found")
)

// AuthError reports a failure to obtain an admin token.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to authenticate with Keycloak: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError reports a non-success response from the admin API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func newAPIError(method, path string, resp *resty.Response) *APIError {
	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       string(resp.Body()),
	}
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, status, e.Body)
}

// IsNotFound reports whether err is a missing dependency or a 404 from the API.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}
