// Package configstore persists propagated secrets into flat key/value
// documents: JSON settings files on disk or Kubernetes Secrets.
package configstore

import (
	"context"
	"fmt"
	"strings"
)

// Store is a flat key/value document. Writes set a single key and leave
// every other key untouched.
type Store interface {
	// Ensure creates the document empty when it does not exist yet and
	// reports whether it did.
	Ensure(ctx context.Context) (bool, error)
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// String names the document in logs.
	String() string
}

// SecretScheme prefixes targets that name a Kubernetes Secret.
const SecretScheme = "secret://"

// SecretRef names a Kubernetes Secret
type SecretRef struct {
	Namespace string
	Name      string
}

func (r SecretRef) String() string {
	return r.Namespace + "/" + r.Name
}

// ParseSecretRef parses "<namespace>/<name>", with or without the secret://
// scheme.
func ParseSecretRef(s string) (SecretRef, error) {
	namespace, name, ok := strings.Cut(strings.TrimPrefix(s, SecretScheme), "/")
	if !ok || namespace == "" || name == "" || strings.Contains(name, "/") {
		return SecretRef{}, fmt.Errorf("invalid secret reference %q, expected <namespace>/<name>", s)
	}
	return SecretRef{Namespace: namespace, Name: name}, nil
}

// IsSecretTarget reports whether target names a Kubernetes Secret.
func IsSecretTarget(target string) bool {
	return strings.HasPrefix(target, SecretScheme)
}
