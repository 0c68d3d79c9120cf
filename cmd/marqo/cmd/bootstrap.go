package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eltociear/marqo/internal/deploy"
	"github.com/eltociear/marqo/pkg/version"
)

func newBootstrapCmd() *cobra.Command {
	var allowDowngrade bool
	var marqoVersion string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Download, bootstrap, and redeploy the application package",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newVespaClient()
			defer client.Close()

			deployer := deploy.New(client, cfg.Package.WorkDir, cfg.Package.ComponentsDir)
			deployer.DeployTimeout = cfg.Vespa.DeployTimeout
			deployer.ConvergenceTimeout = cfg.Vespa.ConvergenceTimeout

			bootstrapped, err := deployer.Bootstrap(cmd.Context(), marqoVersion, nil, nil, allowDowngrade)
			if err != nil {
				return err
			}
			if bootstrapped {
				fmt.Printf("bootstrapped application package to version %s\n", marqoVersion)
			} else {
				fmt.Println("application package is up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowDowngrade, "allow-downgrade", false, "permit rollback to an older version")
	cmd.Flags().StringVar(&marqoVersion, "target-version", version.Version, "version to bootstrap to")
	return cmd
}
