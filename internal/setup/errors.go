package setup

import (
	"errors"
	"net"
	"net/url"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak"
)

// ErrPrecondition is returned when a step runs before a step it requires
// completed.
var ErrPrecondition = errors.New("precondition not met")

// Class groups run failures by how the operator should react.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassGeneral covers configuration, file and other local failures.
	ClassGeneral
	// ClassAuth means the admin credentials were rejected or no session exists.
	ClassAuth
	// ClassDependency means a resource a step depends on could not be resolved.
	ClassDependency
	// ClassTransport means the admin API failed or could not be reached.
	ClassTransport
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassAuth:
		return "auth"
	case ClassDependency:
		return "dependency"
	case ClassTransport:
		return "transport"
	default:
		return "general"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var authErr *keycloak.AuthError
	if errors.As(err, &authErr) || errors.Is(err, keycloak.ErrNotAuthenticated) {
		return ClassAuth
	}

	if errors.Is(err, ErrPrecondition) || keycloak.IsNotFound(err) {
		return ClassDependency
	}

	var apiErr *keycloak.APIError
	if errors.As(err, &apiErr) {
		return ClassTransport
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransport
	}

	return ClassGeneral
}
