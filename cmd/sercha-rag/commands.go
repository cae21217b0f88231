package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/logging"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sercha-rag",
		Short:         "Multi-tenant retrieval and grounded answering",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (defaults to $CONFIG_FILE)")

	cmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newSchemaCmd(opts),
		newOptimizeCmd(opts),
	)
	return cmd
}

// withApp loads configuration, builds the application and closes it after fn
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and/or the ingest worker",
		Long: `Run the service.

Modes:
  api     HTTP API only; documents are queued for a separate worker
  worker  ingest worker only
  all     both in one process (required when the queue is in memory)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateMode(mode); err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return runServe(ctx, a, mode)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", getEnv("RUN_MODE", "all"), "run mode: api, worker or all")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var tenant, roles string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and index documents",
		Long: `Ingest one or more text or markdown files for a tenant.

Examples:
  sercha-rag ingest --tenant acme --roles 1,2 handbook.md travel.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseRoles(roles)
			if err != nil {
				return err
			}
			docs, err := readDocuments(args, tenant, parsed)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if err := a.index.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
				counts, err := a.ingest.IngestBatch(ctx, docs)
				if err != nil {
					return err
				}
				printCounts(cmd, counts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant that owns the documents")
	cmd.Flags().StringVar(&roles, "roles", "", "comma-separated roles allowed to read the documents")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("roles")
	return cmd
}

func readDocuments(paths []string, tenant string, roles []int) ([]domain.DocumentInput, error) {
	docs := make([]domain.DocumentInput, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		docs = append(docs, domain.DocumentInput{
			Text:       string(data),
			TenantID:   tenant,
			SourceFile: filepath.Base(p),
			Roles:      roles,
		})
	}
	return docs, nil
}

func printCounts(cmd *cobra.Command, counts map[string]int) {
	files := make([]string, 0, len(counts))
	for f := range counts {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d chunks\n", f, counts[f])
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		tenant, user string
		role         int
		reasoning    bool
		asJSON       bool
		maxSources   int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against a tenant's documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.AskRequest{
				Query:      strings.Join(args, " "),
				TenantID:   tenant,
				Role:       role,
				UserID:     user,
				Mode:       domain.PromptModeNormal,
				MaxSources: maxSources,
			}
			if reasoning {
				req.Mode = domain.PromptModeReasoning
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				result, err := a.chat.Ask(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(result)
				}
				fmt.Fprintln(out, result.Answer)
				if result.Citation != "" {
					fmt.Fprintf(out, "\nSources: %s\n", result.Citation)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to search")
	cmd.Flags().IntVar(&role, "role", 0, "role of the asking user")
	cmd.Flags().StringVar(&user, "user", "cli", "user whose conversation history is used")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "ask for step-by-step reasoning")
	cmd.Flags().IntVar(&maxSources, "max-sources", 0, "maximum sources to cite (1-10)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the vector collection and payload indexes if absent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if err := a.index.EnsureSchema(ctx); err != nil {
					return err
				}
				a.logger.Info("schema ready", zap.String("backend", a.cfg.IndexBackend()))
				return nil
			})
		},
	}
}

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Switch the vector index to read-optimized mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return a.ingest.Optimize(ctx)
			})
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
