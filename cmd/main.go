package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Import all Kubernetes client auth plugins
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/Hostzero-GmbH/keycloak-provisioner/cmd/provision"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/setup"
)

// Exit codes
const (
	ExitCodeSuccess    = 0
	ExitCodeError      = 1
	ExitCodeNotReady   = 2
	ExitCodeAuth       = 3
	ExitCodeDependency = 4
	ExitCodeTransport  = 5
)

// app carries what the commands share: the logger built from the zap flags
// and the env files to load.
type app struct {
	zapOpts     zap.Options
	dotenvPaths []string
	log         logr.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return getExitCode(err)
	}
	return ExitCodeSuccess
}

func newRootCmd() *cobra.Command {
	a := &app{zapOpts: zap.Options{Development: true}, log: logr.Discard()}
	opts := &provision.Options{}

	cmd := &cobra.Command{
		Use:   "keycloak-provisioner",
		Short: "Provision a Keycloak realm and propagate its secrets",
		Long: `keycloak-provisioner waits for Keycloak to become reachable, converges a
realm to the provisioning document (realm, client, service account roles,
realm roles, token lifespans, profile attributes and users) and writes the
client secret and the realm signing key into the settings documents named by
the secret mapping.

Every step checks before it creates, so the command can be re-run safely.`,
		Example: `  # Provision using ./config/keycloak.json and ./config/env.json
  keycloak-provisioner

  # Explicit documents, credentials from a Kubernetes Secret
  keycloak-provisioner --config hamam.toml --env-config env.yaml \
    --credentials-secret keycloak/admin-credentials --report run.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true, // printed once by execute
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Complete()
			if err := opts.Validate(); err != nil {
				return err
			}
			return provision.Run(cmd.Context(), opts, cmd.OutOrStdout(), a.log)
		},
	}

	opts.BindFlags(cmd.Flags())

	goflags := flag.NewFlagSet("zap", flag.ContinueOnError)
	a.zapOpts.BindFlags(goflags)
	cmd.PersistentFlags().AddGoFlagSet(goflags)
	cmd.PersistentFlags().StringSliceVar(&a.dotenvPaths, "dotenv", nil, "Env files to load before reading the environment (default: ./.env when present)")

	cmd.AddCommand(newSeedCmd(a), newHostsCmd(a))
	return cmd
}

// prepare builds the logger and loads env files. It runs after flag parsing.
func (a *app) prepare() error {
	a.log = zap.New(zap.UseFlagOptions(&a.zapOpts))
	logf.SetLogger(a.log)
	return config.LoadDotenv(a.dotenvPaths...)
}

// getExitCode maps an error to the exit code documented for scripting.
func getExitCode(err error) int {
	if errors.Is(err, provision.ErrNotReady) {
		return ExitCodeNotReady
	}
	switch setup.Classify(err) {
	case setup.ClassNone:
		return ExitCodeSuccess
	case setup.ClassAuth:
		return ExitCodeAuth
	case setup.ClassDependency:
		return ExitCodeDependency
	case setup.ClassTransport:
		return ExitCodeTransport
	default:
		return ExitCodeError
	}
}
