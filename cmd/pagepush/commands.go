package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"pagepush/api/internal/auth"
	"pagepush/api/internal/config"
	"pagepush/api/internal/converter"
	"pagepush/api/internal/store"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "pagepush",
		Short:         "Operator tooling for the pagepush publishing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file loaded before running")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pagepush %s\n", version)
			},
		},
		newMigrateCommand(),
		newSignCommand(),
		newConvertCommand(),
		newHashKeyCommand(),
	)
	return root
}

func newMigrateCommand() *cobra.Command {
	var (
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if dryRun {
				pending, err := store.PendingMigrations(cmd.Context(), db, dir)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(out, "no pending migrations")
				}
				for _, v := range pending {
					fmt.Fprintf(out, "pending %s\n", v)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(cmd.Context(), db, dir)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default PAGEPUSH_MIGRATIONS_DIR)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}

func newSignCommand() *cobra.Command {
	var (
		file   string
		secret string
		curl   bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print X-Timestamp and X-Signature headers for a request body",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = firstNonEmpty(os.Getenv("PAGEPUSH_HMAC_SECRET"), os.Getenv("PAGEPUSH_API_KEY"))
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set PAGEPUSH_HMAC_SECRET")
			}
			body, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			ts, sig := auth.SignNow([]byte(secret), body)
			out := cmd.OutOrStdout()
			if curl {
				fmt.Fprintf(out, "-H 'X-Timestamp: %s' -H 'X-Signature: %s'\n", ts, sig)
				return nil
			}
			fmt.Fprintf(out, "X-Timestamp: %s\nX-Signature: %s\n", ts, sig)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request body file, - for stdin")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (default PAGEPUSH_HMAC_SECRET)")
	cmd.Flags().BoolVar(&curl, "curl", false, "print the headers as curl flags")
	return cmd
}

func newConvertCommand() *cobra.Command {
	var (
		file     string
		families []string
		title    string
		ensureH1 bool
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an HTML file to a block tree and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			result := converter.New(converter.NewCapabilitySet(families...)).Convert(string(raw))
			doc := result.Document
			if ensureH1 {
				doc, _ = converter.EnsureH1(doc, title)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning %s: %s\n", w.Code, w.Message)
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(doc)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "HTML file, - for stdin")
	cmd.Flags().StringSliceVar(&families, "families", nil, "optional widget families available (pro, addons)")
	cmd.Flags().StringVar(&title, "title", "", "title used when an h1 has to be inserted")
	cmd.Flags().BoolVar(&ensureH1, "ensure-h1", false, "enforce exactly one h1")
	return cmd
}

func newHashKeyCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print a bcrypt hash for PAGEPUSH_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" {
				return errors.New("key must not be blank")
			}
			var (
				hash string
				err  error
			)
			if cost == bcrypt.DefaultCost {
				hash, err = auth.HashKey(key)
			} else {
				var raw []byte
				raw, err = bcrypt.GenerateFromPassword([]byte(key), cost)
				hash = string(raw)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
