package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/text2mesh/internal/iocli"
	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/auth"
	"github.com/iudanet/text2mesh/internal/server/mailer"
)

// accountAdmin is the part of auth.Service used by the users commands
type accountAdmin interface {
	GrantRole(ctx context.Context, email string, role models.Role) (*models.User, error)
	RevokeRole(ctx context.Context, email string, role models.Role) (*models.User, error)
	SetPassword(ctx context.Context, email, password string) error
}

var errPasswordMismatch = errors.New("passwords do not match")

func usersCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts directly in the database",
	}

	// withAccounts opens the store for the duration of one command
	withAccounts := func(run func(cmd *cobra.Command, svc accountAdmin, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, *flags)
			if err != nil {
				return err
			}

			store, err := server.OpenStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			svc := auth.NewService(auth.Deps{
				Users:         store,
				Verifications: store,
				Resets:        store,
				Tokens:        store,
				Mailer:        mailer.NewLogMailer(logger),
				Audit:         audit.NewLogSink(logger),
				Logger:        logger,
			}, auth.Config{PasswordCost: cfg.Auth.PasswordCost})

			return run(cmd, svc, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "grant-role <email> <role>",
			Short: "Add a role (user, admin, moderator) to a user",
			Args:  cobra.ExactArgs(2),
			RunE: withAccounts(func(cmd *cobra.Command, svc accountAdmin, args []string) error {
				return grantRole(cmd.Context(), svc, iocli.NewStdio(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "revoke-role <email> <role>",
			Short: "Remove a role from a user",
			Args:  cobra.ExactArgs(2),
			RunE: withAccounts(func(cmd *cobra.Command, svc accountAdmin, args []string) error {
				return revokeRole(cmd.Context(), svc, iocli.NewStdio(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "set-password <email>",
			Short: "Set a new password for a user, read from the terminal",
			Args:  cobra.ExactArgs(1),
			RunE: withAccounts(func(cmd *cobra.Command, svc accountAdmin, args []string) error {
				return setPassword(cmd.Context(), svc, iocli.NewStdio(), args[0])
			}),
		},
	)

	return cmd
}

func grantRole(ctx context.Context, svc accountAdmin, io iocli.IO, email, role string) error {
	user, err := svc.GrantRole(ctx, email, models.Role(role))
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	io.Printf("%s roles: %s\n", user.Email, joinRoles(user.Roles))
	return nil
}

func revokeRole(ctx context.Context, svc accountAdmin, io iocli.IO, email, role string) error {
	user, err := svc.RevokeRole(ctx, email, models.Role(role))
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	io.Printf("%s roles: %s\n", user.Email, joinRoles(user.Roles))
	return nil
}

func setPassword(ctx context.Context, svc accountAdmin, io iocli.IO, email string) error {
	password, err := io.ReadPassword("New password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	confirm, err := io.ReadPassword("Repeat password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if password != confirm {
		return errPasswordMismatch
	}

	if err := svc.SetPassword(ctx, email, password); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	io.Println("Password updated for", email)
	return nil
}

func joinRoles(roles []models.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
