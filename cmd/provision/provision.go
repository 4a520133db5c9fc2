// Package provision provides the CLI that waits for Keycloak, provisions
// the realm and propagates the derived secrets.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/metrics"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/readiness"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/report"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/setup"
)

// ErrNotReady is returned when Keycloak did not become reachable in time
var ErrNotReady = errors.New("keycloak did not become ready")

// Run loads the documents, waits for Keycloak and runs the provisioning and
// propagation plans. The summary table is written to out.
func Run(ctx context.Context, opts *Options, out io.Writer, log logr.Logger) error {
	runID := uuid.NewString()
	log = log.WithValues("run", runID)

	cfg, env, opener, err := load(ctx, opts, log)
	if err != nil {
		return err
	}
	log = log.WithValues("realm", cfg.RealmName)

	rep := report.New(runID, cfg.RealmName)
	err = run(ctx, opts, cfg, env, opener, rep, log)
	rep.Finish(err)
	metrics.RecordRun(err == nil)

	rep.Render(out, !opts.NoColor && isTerminal(out))
	if opts.ReportPath != "" {
		if werr := rep.WriteFile(opts.ReportPath); werr != nil {
			log.Error(werr, "Failed to write run report", "path", opts.ReportPath)
		}
	}
	if opts.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(opts.MetricsTextfile); werr != nil {
			log.Error(werr, "Failed to write metrics textfile", "path", opts.MetricsTextfile)
		}
	}
	return err
}

func run(ctx context.Context, opts *Options, cfg *config.Keycloak, env *config.Env, opener *configstore.Opener, rep *report.Report, log logr.Logger) error {
	if !opts.SkipWait {
		log.Info("Waiting for Keycloak", "url", cfg.BaseURL, "timeout", opts.WaitTimeout.String())
		ready := readiness.WaitForKeycloak(ctx, cfg.BaseURL, readiness.Options{
			Timeout:      opts.WaitTimeout,
			PollInterval: opts.PollInterval,
		}, log)
		if !ready {
			return fmt.Errorf("%w at %s within %s", ErrNotReady, cfg.BaseURL, opts.WaitTimeout)
		}
	}

	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  cfg.BaseURL,
		Username: cfg.AdminUser,
		Password: cfg.AdminPass,
	}, log)
	engine := setup.NewEngine(api, opener, log)

	results, err := engine.Provision(ctx, cfg)
	rep.Add(results...)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	if env == nil {
		log.Info("No secret mapping given, skipping propagation")
		return nil
	}
	results, err = engine.Propagate(ctx, cfg, env)
	rep.Add(results...)
	if err != nil {
		return fmt.Errorf("propagation failed: %w", err)
	}
	return nil
}

// load reads and validates both documents and resolves the admin
// credentials.
func load(ctx context.Context, opts *Options, log logr.Logger) (*config.Keycloak, *config.Env, *configstore.Opener, error) {
	cfg, err := config.LoadKeycloak(opts.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var env *config.Env
	if opts.EnvConfigPath != "" {
		if env, err = config.LoadEnv(opts.EnvConfigPath); err != nil {
			return nil, nil, nil, err
		}
		if err := env.Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid secret mapping %s: %w", opts.EnvConfigPath, err)
		}
	}

	opener := &configstore.Opener{NewClient: opts.newKubeClient}

	var creds *config.Credentials
	if opts.CredentialsSecret != "" {
		ref, err := configstore.ParseSecretRef(opts.CredentialsSecret)
		if err != nil {
			return nil, nil, nil, err
		}
		c, err := opener.Client()
		if err != nil {
			return nil, nil, nil, err
		}
		fromSecret, err := config.CredentialsFromSecret(ctx, c, ref, opts.UsernameKey, opts.PasswordKey)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("Using admin credentials from secret", "secret", ref.String())
		creds = &fromSecret
	}
	opts.apply(cfg, creds)

	if cfg.AdminPass == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		if cfg.AdminPass, err = promptPassword(os.Stderr, cfg.AdminUser); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid provisioning document %s: %w", opts.ConfigPath, err)
	}
	return cfg, env, opener, nil
}

func promptPassword(out io.Writer, username string) (string, error) {
	fmt.Fprintf(out, "Password for Keycloak admin %q: ", username)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(pass) == 0 {
		return "", errors.New("password is empty")
	}
	return string(pass), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
