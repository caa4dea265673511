package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/M-sasank/finsight/internal/auth"
	"github.com/M-sasank/finsight/internal/config"
	"github.com/M-sasank/finsight/internal/storage"
)

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Long: `Issue a signed bearer token for a user id. The token is printed to
stdout so it can be captured by scripts.

Examples:
  finsight token --user alice
  finsight token --user alice --ttl 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if user == "" {
			return errors.New("--user is required")
		}
		if ttl <= 0 {
			return errors.New("--ttl must be positive")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("auth.jwt_secret is not set: %w", err)
		}
		tok, err := issuer.Sign(user, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		printSuccess("Token for %s expires %s", user, time.Now().Add(ttl).Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id to embed in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- admin ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative data operations",
}

var adminWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all stored data for every user",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL assets, risk analyses, conversations and cached feeds. Use --confirm to proceed.")
			return nil
		}
		return withData(cmd.Context(), func(ctx context.Context, store *storage.Store, cfg config.Config) error {
			printStep("Deleting database rows...")
			if err := store.WipeAll(ctx); err != nil {
				return err
			}
			printStep("Clearing %s cache...", cfg.Cache.Backend)
			blobs, closeBlobs, err := openBlobStore(cfg.Cache)
			if err != nil {
				return err
			}
			defer closeBlobs()
			if err := blobs.Clear(ctx); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			printSuccess("All data wiped")
			return nil
		})
	},
}

var adminClearUserCmd = &cobra.Command{
	Use:   "clear-user <id>",
	Short: "Delete one user's assets, risk analyses, conversations and cached feeds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := args[0]
		return withData(cmd.Context(), func(ctx context.Context, store *storage.Store, cfg config.Config) error {
			if err := store.ClearOwner(ctx, owner); err != nil {
				return err
			}
			blobs, closeBlobs, err := openBlobStore(cfg.Cache)
			if err != nil {
				return err
			}
			defer closeBlobs()
			if err := blobs.ClearOwner(ctx, owner); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			printSuccess("Cleared data for %s", owner)
			return nil
		})
	},
}

func withData(ctx context.Context, fn func(context.Context, *storage.Store, config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	return fn(ctx, store, cfg)
}

func init() {
	adminWipeCmd.Flags().Bool("confirm", false, "confirm data wipe")
	adminCmd.AddCommand(adminWipeCmd, adminClearUserCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %v)", err, config.ValidKeys())
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		client, err := newAPIClient(user)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.get(ctx, "/health")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		var health map[string]string
		if err := decodeJSON(resp, &health); err != nil {
			printStatus("Server", "error (%v)", err)
			return nil
		}
		printStatus("Server", "%s at %s", health["status"], client.baseURL)

		if user == "" {
			return nil
		}
		resp, err = client.get(ctx, "/api/v1/tracker/assets")
		if err != nil {
			return err
		}
		var assets []storage.Asset
		if err := decodeJSON(resp, &assets); err != nil {
			return err
		}
		printStatus("Tracked assets", "%d", len(assets))
		for _, a := range assets {
			printStatus("  "+a.Symbol, "%.2f (%+.2f%%) updated %s", a.Price, a.Movement, a.LastUpdated.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("user", "", "also list this user's tracked assets")
}
