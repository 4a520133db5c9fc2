package config

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
)

// Default keys of the admin credentials Secret
const (
	DefaultUsernameKey = "username"
	DefaultPasswordKey = "password"
)

// Credentials are Keycloak admin credentials
type Credentials struct {
	Username string
	Password string
}

// CredentialsFromSecret reads admin credentials from a Kubernetes Secret.
// Empty key names fall back to "username" and "password".
func CredentialsFromSecret(ctx context.Context, c client.Client, ref configstore.SecretRef, usernameKey, passwordKey string) (Credentials, error) {
	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{Namespace: ref.Namespace, Name: ref.Name}, secret); err != nil {
		return Credentials{}, fmt.Errorf("failed to get credentials secret %s: %w", ref, err)
	}

	if usernameKey == "" {
		usernameKey = DefaultUsernameKey
	}
	if passwordKey == "" {
		passwordKey = DefaultPasswordKey
	}

	username, ok := secret.Data[usernameKey]
	if !ok {
		return Credentials{}, fmt.Errorf("username key %q not found in secret %s", usernameKey, ref)
	}
	password, ok := secret.Data[passwordKey]
	if !ok {
		return Credentials{}, fmt.Errorf("password key %q not found in secret %s", passwordKey, ref)
	}
	if len(username) == 0 || len(password) == 0 {
		return Credentials{}, fmt.Errorf("credentials secret %s is missing username or password", ref)
	}

	return Credentials{Username: string(username), Password: string(password)}, nil
}

// Apply overrides the admin credentials of the document
func (c Credentials) Apply(k *Keycloak) {
	k.AdminUser = c.Username
	k.AdminPass = c.Password
}
