package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thumbsup-team/securenas/pkg/config"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token",
	Long: `Mint a bearer token for the admin API using the configured token
secret. The secret comes from the ` + api.EnvTokenSecret + ` environment
variable or the api.token.secret config key.

Example:
  TOKEN=$(securenas token)
  curl -H "Authorization: Bearer $TOKEN" http://localhost:8080/api/v1/device`,
	RunE: runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	cfg.API.ApplyDefaults()

	secret := cfg.API.GetTokenSecret()
	if secret == "" {
		return fmt.Errorf("no token secret configured; set %s", api.EnvTokenSecret)
	}

	tokenService, err := auth.NewTokenService(secret, cfg.API.Token.Duration)
	if err != nil {
		return err
	}

	token, expiresAt, err := tokenService.MintAdminToken()
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires: %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
