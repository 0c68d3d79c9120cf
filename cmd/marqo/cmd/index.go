package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eltociear/marqo/internal/apppackage"
	"github.com/eltociear/marqo/internal/deploy"
	"github.com/eltociear/marqo/internal/index"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage indexes in the application package",
	}
	cmd.AddCommand(newIndexAddCmd())
	cmd.AddCommand(newIndexDeleteCmd())
	cmd.AddCommand(newIndexListCmd())
	return cmd
}

func newIndexAddCmd() *cobra.Command {
	var settingsFile string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an index from a settings JSON file and deploy its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(settingsFile)
			if err != nil {
				return err
			}
			var record index.IndexDescriptor
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if err := record.Initialize(); err != nil {
				return err
			}

			client := newVespaClient()
			defer client.Close()
			deployer := deploy.New(client, cfg.Package.WorkDir, cfg.Package.ComponentsDir)

			saved, err := deployer.CreateIndex(cmd.Context(), &record)
			if err != nil {
				return err
			}
			fmt.Printf("created index %s at version %d (schema %s)\n", saved.Name, saved.Version, saved.SchemaName)
			return nil
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "", "path to the index settings JSON file")
	_ = cmd.MarkFlagRequired("settings")
	return cmd
}

func newIndexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an index and schedule its schema removal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newVespaClient()
			defer client.Close()
			deployer := deploy.New(client, cfg.Package.WorkDir, cfg.Package.ComponentsDir)

			if err := deployer.DeleteIndex(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted index %s\n", args[0])
			return nil
		},
	}
}

func newIndexListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexes registered in the local package working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := apppackage.Load(cfg.Package.WorkDir, cfg.Package.ComponentsDir)
			if err != nil {
				return err
			}
			defer pkg.Release()

			for _, record := range pkg.Settings().List() {
				fmt.Printf("%s\tversion %d\ttype %s\tschema %s\n",
					record.Name, record.Version, record.Type, record.SchemaName)
			}
			return nil
		},
	}
}
