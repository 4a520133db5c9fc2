package configstore

import (
	"fmt"

	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// Opener turns a target from the secret mapping into a Store. The Kubernetes
// client is only built when the first secret:// target is opened.
type Opener struct {
	// NewClient builds the Kubernetes client. Defaults to NewKubeClient.
	NewClient func() (client.Client, error)

	kube client.Client
}

// Open returns the store for target: a SecretStore for secret://ns/name,
// otherwise a FileStore for the path.
func (o *Opener) Open(target string) (Store, error) {
	if !IsSecretTarget(target) {
		return NewFileStore(target), nil
	}

	ref, err := ParseSecretRef(target)
	if err != nil {
		return nil, err
	}
	c, err := o.Client()
	if err != nil {
		return nil, err
	}
	return NewSecretStore(c, ref), nil
}

// Client returns the Kubernetes client, building it on first use.
func (o *Opener) Client() (client.Client, error) {
	if o.kube != nil {
		return o.kube, nil
	}
	newClient := o.NewClient
	if newClient == nil {
		newClient = NewKubeClient
	}
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	o.kube = c
	return c, nil
}

// NewKubeClient builds a controller-runtime client from the kubeconfig or
// the in-cluster configuration.
func NewKubeClient() (client.Client, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w (ensure KUBECONFIG is set or ~/.kube/config exists)", err)
	}

	c, err := client.New(cfg, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return c, nil
}
