package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/config"
	"github.com/jonathan/linkrisk/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token",
	Long:  "Signs a token for the HTTP API with JWT_SECRET. The token expires after JWT_EXPIRATION_HOURS (default 24).",
	RunE:  runToken,
}

var tokenClient string

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "", "Client name recorded as the token subject (required)")
	_ = tokenCmd.MarkFlagRequired("client")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(tokenClient)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
