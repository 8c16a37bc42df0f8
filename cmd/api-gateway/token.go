package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
)

func tokenCmd() *cobra.Command {
	var (
		role     string
		email    string
		fullName string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user_id>",
		Short: "Issue an access token for local administration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userRole := models.UserRole(strings.ToUpper(role))
			switch userRole {
			case models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tokens := service.NewTokenService(service.TokenConfig{Secret: app.cfg.JWT.Secret, Issuer: app.cfg.JWT.Issuer})
			token, expiresAt, err := tokens.Issue(args[0], userRole, email, fullName, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Printf("expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "Role: SUPERADMIN, ADMIN or STAFF")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&fullName, "name", "", "Full name claim, used as the approving administrator")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
