// Command gatectl mints invitation links and admin tokens with the same
// secrets the server uses.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jwttoken "guildgate/internal/jwt_token"
	"guildgate/internal/platform/config"
	"guildgate/internal/token"
)

const (
	programName          = "gatectl"
	defaultAdminTokenTTL = time.Hour
)

type globalFlags struct {
	secret string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Mint guildgate invitation links and admin tokens",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.secret, "secret", envOr("API_SECRET", config.DefaultAPISecret),
		"shared secret (defaults to $API_SECRET)")

	root.AddCommand(inviteCommand(flags), adminTokenCommand(flags))
	return root
}

func inviteCommand(flags *globalFlags) *cobra.Command {
	var guild, user, base string
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Print a signed invitation link for one member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if guild == "" || user == "" {
				return fmt.Errorf("--guild and --user are required")
			}
			codec, err := token.New(flags.secret)
			if err != nil {
				return err
			}
			link, err := codec.InviteURL(strings.TrimRight(base, "/")+"/v", guild, user)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
			return err
		},
	}
	cmd.Flags().StringVar(&guild, "guild", os.Getenv("GUILD_ID"), "community id (defaults to $GUILD_ID)")
	cmd.Flags().StringVar(&user, "user", "", "member id to invite")
	cmd.Flags().StringVar(&base, "base-url", "http://localhost:8080", "public base URL of the gate")
	return cmd
}

func adminTokenCommand(flags *globalFlags) *cobra.Command {
	var subject, issuer, audience, adminSecret string
	var ttl time.Duration
	defaultTTL, ttlErr := envDuration("ADMIN_TOKEN_TTL", defaultAdminTokenTTL)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a bearer token for the admin review API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttlErr != nil && !cmd.Flags().Changed("ttl") {
				return ttlErr
			}
			if adminSecret == "" || adminSecret == flags.secret || adminSecret == config.DefaultAPISecret {
				return fmt.Errorf("--admin-secret must be set and differ from the invite secret")
			}
			svc, err := jwttoken.NewJWTService(adminSecret, issuer, audience)
			if err != nil {
				return err
			}
			tok, err := svc.GenerateAdminToken(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "moderator name recorded in admin logs")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("ADMIN_JWT_ISSUER", "guildgate"), "token issuer")
	cmd.Flags().StringVar(&audience, "audience", envOr("ADMIN_JWT_AUDIENCE", "guildgate-admin"), "token audience")
	cmd.Flags().StringVar(&adminSecret, "admin-secret", os.Getenv("ADMIN_JWT_SECRET"), "admin token secret (defaults to $ADMIN_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTTL, "token lifetime (defaults to $ADMIN_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
