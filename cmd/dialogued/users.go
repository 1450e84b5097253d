package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gendialogue/dialogue-backend/internal/auth"
	"github.com/gendialogue/dialogue-backend/internal/database"
	"github.com/gendialogue/dialogue-backend/internal/repository/postgres"
)

func newCreateUserCmd(a *app) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.NewConnection(a.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			jwtService := auth.NewJWTService(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL)
			authService := auth.NewService(postgres.NewUserRepository(db.DB), jwtService, a.logger)

			user, err := authService.Register(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newSetPasswordCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "setpassword",
		Short: "Reset a user's password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := auth.ValidatePassword(password); err != nil {
				return err
			}

			db, err := database.NewConnection(a.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			users := postgres.NewUserRepository(db.DB)
			user, err := users.GetByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("find user %s: %w", email, err)
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			if err := users.UpdatePassword(cmd.Context(), user.ID, hash); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated password for %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the account")
	cmd.Flags().StringVar(&password, "password", "", "New password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
