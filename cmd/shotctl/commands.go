package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/apikey"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/internal/ocr"
	"github.com/kiranshivaraju/shotsearch/internal/pipeline"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/spf13/cobra"
)

const (
	defaultMigrationsDir = "migrations"
	objectFetchTimeout   = 60 * time.Second
)

var errNoOCR = errors.New("OCR_BASE_URL is not set")

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if err := store.RunMigrations(cfg.Database.URL, dir); err != nil {
			return err
		}
		printSuccess("Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps < 1 {
			return fmt.Errorf("--steps must be at least 1, got %d", steps)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if err := store.MigrateDown(cfg.Database.URL, dir, steps); err != nil {
			return err
		}
		printSuccess("Rolled back %d migration(s)", steps)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().String("dir", defaultMigrationsDir, "Directory holding the migration files")
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an API key",
	Long:  "Create an API key for a user. The raw key is printed once and cannot be recovered.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		if name == "" {
			return errors.New("key name is required")
		}
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		scopes, _ := cmd.Flags().GetStringSlice("scopes")

		generated, err := apikey.Generate()
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, s *store.PostgresStore) error {
			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				UserID:    userID,
				Name:      name,
				KeyHash:   generated.Hash,
				KeyPrefix: generated.Prefix,
				Scopes:    scopes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.CreateAPIKey(ctx, key); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return fmt.Errorf("a key named %q already exists for user %s", name, userID)
				}
				return err
			}
			printSuccess("Created key %s", key.ID)
			printWarning("Store this key now; it will not be shown again")
			fmt.Fprintln(cmd.OutOrStdout(), generated.Raw)
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's active API keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, s *store.PostgresStore) error {
			keys, err := s.ListAPIKeys(ctx, userID)
			if err != nil {
				return err
			}
			printKeys(cmd, keys)
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[0])
		}
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, s *store.PostgresStore) error {
			if err := s.RevokeAPIKey(ctx, keyID, userID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no active key %s for user %s", keyID, userID)
				}
				return err
			}
			printSuccess("Revoked key %s", keyID)
			return nil
		})
	},
}

func init() {
	keysCmd.PersistentFlags().String("user", "", "Owner user ID (required)")
	keysCreateCmd.Flags().StringSlice("scopes", []string{"read", "write"}, "Comma-separated scopes")

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

func userFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("user")
	if raw == "" {
		return uuid.Nil, errors.New("--user is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user %q", raw)
	}
	return id, nil
}

func printKeys(cmd *cobra.Command, keys []*models.APIKey) {
	if len(keys) == 0 {
		printWarning("No active keys")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	tw.Flush()
}

// --- requeue ---

var requeueCmd = &cobra.Command{
	Use:   "requeue <screenshot-id>",
	Short: "Reset failed or stuck tasks of a screenshot",
	Long: `Reset every failed or processing task of a screenshot to pending with a
fresh attempt budget. A running server picks the tasks up on its next sweep.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid screenshot id %q", args[0])
		}
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, s *store.PostgresStore) error {
			if _, err := s.GetScreenshot(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("screenshot %s not found", id)
				}
				return err
			}
			n, err := s.ResetTasks(ctx, id)
			if err != nil {
				return err
			}
			if n == 0 {
				printWarning("Nothing to requeue for %s", id)
				return nil
			}
			if err := s.UpdateScreenshotStatus(ctx, id, models.ScreenshotStatusProcessing, store.WithClearedError()); err != nil {
				return err
			}
			printSuccess("Requeued %d task(s) for %s", n, id)
			return nil
		})
	},
}

// --- ocr ---

var ocrCmd = &cobra.Command{
	Use:   "ocr",
	Short: "Server-side text extraction",
}

var ocrBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Extract text for screenshots uploaded without OCR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 {
			return fmt.Errorf("--limit must be at least 1, got %d", limit)
		}
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, s *store.PostgresStore) error {
			if !cfg.OCR.Enabled() {
				return errNoOCR
			}
			objects, err := objectstore.NewFromConfig(cfg.Storage, objectFetchTimeout)
			if err != nil {
				return err
			}
			pool := ocr.NewPool(cfg.OCR.BaseURL, cfg.OCR.Language, cfg.OCR.MaxSessions, cfg.OCR.Timeout)

			report, err := pipeline.NewOCRBackfill(s, objects, pool, cfg.Storage.SignedURLTTL).RunBatch(ctx, limit)
			printStatus("Scanned", "%d", report.Scanned)
			printStatus("Extracted", "%d", report.Extracted)
			printStatus("Failed", "%d", report.Failed)
			if err != nil {
				return err
			}
			printSuccess("Backfill batch complete")
			return nil
		})
	},
}

func init() {
	ocrBackfillCmd.Flags().Int("limit", 50, "Maximum screenshots to process in this batch")
	ocrCmd.AddCommand(ocrBackfillCmd)
}

// withStore loads config, opens a pool and hands a store to fn. The context
// is cancelled on SIGINT or SIGTERM.
func withStore(parent context.Context, fn func(ctx context.Context, cfg *config.Config, s *store.PostgresStore) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, store.NewPostgresStore(pool))
}
