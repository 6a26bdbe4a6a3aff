// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/castdeck/castdeck/cmd/castdeck/cli"
	"github.com/castdeck/castdeck/lib/authtoken"
	"github.com/castdeck/castdeck/lib/config"
	"github.com/castdeck/castdeck/lib/process"
)

// tokenOutput is printed with --json.
type tokenOutput struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func tokenCommand(stdout io.Writer) *cli.Command {
	var (
		secretPath string
		configPath string
		subject    string
		ttl        time.Duration
		asJSON     bool
	)
	return &cli.Command{
		Name:    "token",
		Summary: "Mint a bearer token from the worker secret",
		Description: "Mint a bearer token signed with the worker's auth secret. The\n" +
			"secret is read from --secret, or from auth.secret_path in --config.",
		Usage: "castdeck token (--secret PATH | --config FILE) [--ttl 1h] [--subject NAME]",
		Examples: []cli.Example{
			{Description: "One-hour token for an overlay", Command: "castdeck token --config castdeck.yaml --ttl 1h --subject overlay"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
			flagSet.StringVar(&secretPath, "secret", "", "path to the worker's auth secret")
			flagSet.StringVar(&configPath, "config", "", "worker config file naming the secret")
			flagSet.StringVar(&subject, "subject", "cli", "token subject")
			flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl, or 24h)")
			flagSet.BoolVar(&asJSON, "json", false, "print token details as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return process.Usagef("token takes no arguments")
			}
			if (secretPath == "") == (configPath == "") {
				return process.Usagef("exactly one of --secret or --config is required")
			}
			if configPath != "" {
				cfg, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				secretPath = cfg.Auth.SecretPath
				if ttl == 0 {
					ttl = cfg.Auth.TokenTTL.Std()
				}
			}

			secret, err := authtoken.LoadSecret(secretPath)
			if err != nil {
				return err
			}
			token, claims, err := authtoken.Mint(secret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(stdout, tokenOutput{
					Token:     token,
					ID:        claims.ID,
					Subject:   claims.Subject,
					ExpiresAt: claims.ExpiresAt.Time,
				})
			}
			_, err = fmt.Fprintln(stdout, token)
			return err
		},
	}
}
