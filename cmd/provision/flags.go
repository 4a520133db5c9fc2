package provision

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/readiness"
)

// Environment variables read when the matching flag is not set
const (
	EnvURL      = "KEYCLOAK_URL"
	EnvUsername = "KEYCLOAK_USERNAME"
	EnvPassword = "KEYCLOAK_PASSWORD"
)

// Options holds the provision command options
type Options struct {
	// Input documents
	ConfigPath    string
	EnvConfigPath string

	// Connection overrides
	URL      string
	Username string
	Password string

	// Credentials from a Kubernetes Secret
	CredentialsSecret string
	UsernameKey       string
	PasswordKey       string

	// Readiness
	WaitTimeout  time.Duration
	PollInterval time.Duration
	SkipWait     bool

	// Outputs
	ReportPath      string
	MetricsTextfile string
	NoColor         bool

	// Internal
	newKubeClient func() (client.Client, error)
}

// BindFlags binds the options to the given flag set
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", "./config/keycloak.json", "Provisioning document (JSON, YAML or TOML)")
	fs.StringVarP(&o.EnvConfigPath, "env-config", "e", "./config/env.json", "Secret mapping document; empty skips propagation")

	fs.StringVar(&o.URL, "url", "", "Keycloak server URL, overrides base_url (env "+EnvURL+")")
	fs.StringVar(&o.Username, "username", "", "Keycloak admin username, overrides admin_user (env "+EnvUsername+")")
	fs.StringVar(&o.Password, "password", "", "Keycloak admin password, overrides admin_pass (env "+EnvPassword+")")

	fs.StringVar(&o.CredentialsSecret, "credentials-secret", "", "Read admin credentials from the Kubernetes Secret <namespace>/<name>")
	fs.StringVar(&o.UsernameKey, "username-key", config.DefaultUsernameKey, "Key of the username in the credentials secret")
	fs.StringVar(&o.PasswordKey, "password-key", config.DefaultPasswordKey, "Key of the password in the credentials secret")

	fs.DurationVar(&o.WaitTimeout, "wait-timeout", readiness.DefaultTimeout, "How long to wait for Keycloak to become reachable")
	fs.DurationVar(&o.PollInterval, "poll-interval", readiness.DefaultPollInterval, "Pause between readiness rounds")
	fs.BoolVar(&o.SkipWait, "skip-wait", false, "Do not wait for Keycloak before provisioning")

	fs.StringVar(&o.ReportPath, "report", "", "Write a run report to this file (.json for JSON, YAML otherwise)")
	fs.StringVar(&o.MetricsTextfile, "metrics-textfile", "", "Write run metrics in the node-exporter textfile format")
	fs.BoolVar(&o.NoColor, "no-color", false, "Disable colors in the summary table")
}

// Complete fills unset connection options from the environment. Env files
// must be loaded before.
func (o *Options) Complete() {
	o.completeFromEnv(os.Getenv)
}

func (o *Options) completeFromEnv(getenv func(string) string) {
	if o.URL == "" {
		o.URL = getenv(EnvURL)
	}
	if o.Username == "" {
		o.Username = getenv(EnvUsername)
	}
	if o.Password == "" {
		o.Password = getenv(EnvPassword)
	}
}

// Validate validates the options
func (o *Options) Validate() error {
	if o.ConfigPath == "" {
		return errors.New("--config is required")
	}
	if o.CredentialsSecret != "" {
		if _, err := configstore.ParseSecretRef(o.CredentialsSecret); err != nil {
			return fmt.Errorf("--credentials-secret: %w", err)
		}
	}
	if o.WaitTimeout <= 0 {
		return errors.New("--wait-timeout must be positive")
	}
	if o.PollInterval <= 0 {
		return errors.New("--poll-interval must be positive")
	}
	if o.PollInterval > o.WaitTimeout {
		return errors.New("--poll-interval must not exceed --wait-timeout")
	}
	return nil
}

// apply overrides the document with the connection options. Credentials
// from the secret come first, explicit flags and env variables win.
func (o *Options) apply(cfg *config.Keycloak, secretCreds *config.Credentials) {
	if secretCreds != nil {
		secretCreds.Apply(cfg)
	}
	if o.URL != "" {
		cfg.BaseURL = o.URL
	}
	if o.Username != "" {
		cfg.AdminUser = o.Username
	}
	if o.Password != "" {
		cfg.AdminPass = o.Password
	}
}
