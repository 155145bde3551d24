// Command devtoken signs a bearer token with COUNSEL_JWT_SECRET for local
// development against an API running without a JWKS provider.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"counsel/api/internal/auth"
	"counsel/api/internal/config"
	"counsel/api/internal/rbac"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "could not load .env:", err)
	}
	if err := newRootCmd(config.Load(), os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, out io.Writer) *cobra.Command {
	var (
		name string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devtoken <user-id>",
		Short: "Sign a development bearer token for the Counsel API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.IsDev() {
				return fmt.Errorf("devtoken only runs with COUNSEL_ENV=dev, got %q", cfg.Env)
			}
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errors.New("user id is required")
			}
			r := rbac.Role(strings.ToLower(strings.TrimSpace(role)))
			if rbac.Normalize(string(r)) != r {
				return fmt.Errorf("unknown role %q", role)
			}
			if name == "" {
				name = userID
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), userID, name, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleEditor), "viewer, commenter, editor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
