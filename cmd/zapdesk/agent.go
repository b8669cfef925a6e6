package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/database"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

func newAgentCommand() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage desk agents",
	}
	agent.AddCommand(newAgentCreateCommand())
	return agent
}

func newAgentCreateCommand() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" || email == "" || password == "" {
				return fmt.Errorf("--name, --email and --password are required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			os.Setenv("ZAPDESK_DATABASE_DRIVER", cfg.Database.Driver)

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Bootstrap(db); err != nil {
				return err
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			user := &models.User{Name: name, Email: email, PasswordHash: string(hash)}
			if err := repository.NewUserRepository(db).Create(context.Background(), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created agent %d (%s)\n", user.ID, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	return cmd
}
