package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/subimport/internal/admin"
	"github.com/JonMunkholm/subimport/internal/application"
)

func newDBCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the subscribers table of the postgres backend",
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the subscribers table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := application.Connect(cmd.Context(), rt.cfg.Database, rt.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := admin.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(rt.deps.Out, "subscribers table ready")
			return nil
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete every subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete subscribers without --yes")
			}
			pool, err := application.Connect(cmd.Context(), rt.cfg.Database, rt.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := admin.Reset(cmd.Context(), pool)
			if err != nil {
				return err
			}
			rt.logger.Warn("subscribers deleted", "count", n)
			fmt.Fprintf(rt.deps.Out, "deleted %d subscribers\n", n)
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cmd.AddCommand(migrate, reset)
	return cmd
}
