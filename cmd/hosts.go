package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/hosts"
)

func newHostsCmd(a *app) *cobra.Command {
	var hostsFile, configPath string

	cmd := &cobra.Command{
		Use:   "hosts [domain...]",
		Short: "Map local domains to 127.0.0.1 in the hosts file",
		Long: `Appends "127.0.0.1 <domain>" to the hosts file for every domain without a
loopback mapping. Domains come from the arguments, or from the domains list
of the provisioning document given with --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			domains := args
			if configPath != "" {
				cfg, err := config.LoadKeycloak(configPath)
				if err != nil {
					return err
				}
				domains = append(domains, cfg.Domains...)
			}
			if len(domains) == 0 {
				return errors.New("no domains given (pass domains as arguments or use --config)")
			}

			added, err := hosts.NewEditor(hostsFile, a.log).Ensure(cmd.Context(), domains)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d domain mappings added to %s\n", len(added), len(domains), hostsFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&hostsFile, "hosts-file", hosts.DefaultPath(), "Hosts file to update")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Provisioning document to read domains from")
	return cmd
}
