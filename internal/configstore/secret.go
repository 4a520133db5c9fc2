package configstore

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

// ManagedByLabel marks Secrets created by this tool.
const ManagedByLabel = "app.kubernetes.io/managed-by"

// SecretStore keeps the document in the data of a Kubernetes Secret.
type SecretStore struct {
	client client.Client
	ref    SecretRef
}

// NewSecretStore creates a store backed by the Secret ref
func NewSecretStore(c client.Client, ref SecretRef) *SecretStore {
	return &SecretStore{client: c, ref: ref}
}

func (s *SecretStore) String() string {
	return SecretScheme + s.ref.String()
}

func (s *SecretStore) key() types.NamespacedName {
	return types.NamespacedName{Namespace: s.ref.Namespace, Name: s.ref.Name}
}

func (s *SecretStore) get(ctx context.Context) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	if err := s.client.Get(ctx, s.key(), secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Ensure creates an empty Opaque Secret when none exists.
func (s *SecretStore) Ensure(ctx context.Context) (bool, error) {
	_, err := s.get(ctx)
	if err == nil {
		return false, nil
	}
	if !apierrors.IsNotFound(err) {
		return false, fmt.Errorf("failed to get secret %s: %w", s.ref, err)
	}

	secret := s.object()
	initNew(secret)
	if err := s.client.Create(ctx, secret); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create secret %s: %w", s.ref, err)
	}
	return true, nil
}

// Get returns the value of key
func (s *SecretStore) Get(ctx context.Context, key string) (string, bool, error) {
	secret, err := s.get(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to get secret %s: %w", s.ref, err)
	}
	value, ok := secret.Data[key]
	return string(value), ok, nil
}

// Set stores value under key. A missing Secret is created.
func (s *SecretStore) Set(ctx context.Context, key, value string) error {
	secret := s.object()
	_, err := controllerutil.CreateOrUpdate(ctx, s.client, secret, func() error {
		if secret.ResourceVersion == "" {
			initNew(secret)
		}
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		secret.Data[key] = []byte(value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write secret %s: %w", s.ref, err)
	}
	return nil
}

func (s *SecretStore) object() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.ref.Name,
			Namespace: s.ref.Namespace,
		},
	}
}

// initNew sets the fields of a Secret this tool creates
func initNew(secret *corev1.Secret) {
	secret.Labels = map[string]string{ManagedByLabel: "keycloak-provisioner"}
	secret.Type = corev1.SecretTypeOpaque
	secret.Data = map[string][]byte{}
}
