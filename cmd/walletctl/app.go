package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/service"
)

func appCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage merchant apps on the external gateway",
	}
	cmd.AddCommand(appCreateCmd())
	return cmd
}

func appCreateCmd() *cobra.Command {
	var (
		owner string
		name  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an app and print its API key",
		Long: `Register an app owned by --owner and print its API key.

The key is shown exactly once. Only its hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}

			ctx := cmd.Context()
			st, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			gateway, err := service.NewGatewayService(st, nil, nil, log)
			if err != nil {
				return err
			}
			app, key, err := gateway.RegisterApp(ctx, ownerID, name)
			if err != nil {
				return err
			}
			log.Info("app created", zap.Stringer("app_id", app.ID), zap.String("key_prefix", app.KeyPrefix))
			fmt.Fprintf(cmd.OutOrStdout(), "app_id:  %s\napi_key: %s\n", app.ID, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account id that receives the app's payments")
	cmd.Flags().StringVar(&name, "name", "", "display name of the app")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
