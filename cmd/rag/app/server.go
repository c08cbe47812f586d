// Package app provides the RAG server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

const (
	// commandDesc is the description of the command.
	commandDesc = `Sentinel RAG Service

Answers natural-language questions from a private document corpus by
retrieving the most relevant chunks and asking a language model to
answer from them.

This server provides:
  - Document ingestion with chunking and vector embeddings
  - Token-budgeted retrieval with citations
  - A query cache that invalidates itself when the corpus changes
  - Ollama and OpenAI-compatible providers`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithShortDescription("Retrieval-augmented question answering service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithCommands(
			newIngestCommand(opts),
			newAskCommand(opts),
			newCheckCommand(opts),
			newAuditCommand(opts),
			newClearCacheCommand(opts),
		),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		// Load the configuration options
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		// Build the server using the configuration
		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run the server with signal context for graceful shutdown
		return server.Run(ctx)
	}
}

// withRuntime 创建运行时，执行 fn 后释放。
func withRuntime(opts *options.ServerOptions, fn func(ctx context.Context, rt *ragsvc.Runtime) error) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := setupSignalContext()
	rt, err := cfg.NewRuntime(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)
	if err := rt.Close(context.Background()); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func newIngestCommand(opts *options.ServerOptions) *cobra.Command {
	var includes, excludes []string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index the documents under a directory",
		Long: `Index every matching file under a directory. Each file becomes one
document whose id is its path relative to the directory. Unchanged files are
skipped, changed files replace their previous chunks.

Examples:
  sentinel-rag ingest ./docs
  sentinel-rag ingest ./kb --include '**/*.md' --exclude 'drafts/**'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			info, err := os.Stat(root)
			if err != nil {
				return fmt.Errorf("path does not exist: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("path is not a directory: %s", root)
			}

			files, err := ragsvc.CollectFiles(root, includes, excludes)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching files.")
				return nil
			}

			return withRuntime(opts, func(ctx context.Context, rt *ragsvc.Runtime) error {
				var progress ragsvc.ProgressFunc
				if !quiet {
					bar := progressbar.NewOptions(len(files),
						progressbar.OptionSetWriter(cmd.ErrOrStderr()),
						progressbar.OptionEnableColorCodes(true),
						progressbar.OptionShowCount(),
						progressbar.OptionSetWidth(40),
						progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
						progressbar.OptionOnCompletion(func() {
							fmt.Fprintln(cmd.ErrOrStderr())
						}),
					)
					progress = func(done, _ int, _ ragsvc.SourceFile) {
						_ = bar.Set(done)
					}
				}

				start := time.Now()
				report, err := rt.IngestFiles(ctx, files, progress)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				stats := rt.Index.Stats()
				fmt.Fprintf(out, "Indexing complete in %s:\n", time.Since(start).Round(time.Millisecond))
				fmt.Fprintf(out, "  Files indexed:   %d\n", report.Indexed)
				fmt.Fprintf(out, "  Files unchanged: %d\n", report.Unchanged)
				fmt.Fprintf(out, "  Files failed:    %d\n", len(report.Failed))
				fmt.Fprintf(out, "  Corpus:          %d documents, %d chunks\n", stats.Documents, stats.Chunks)
				for id, msg := range report.Failed {
					fmt.Fprintf(out, "  - %s: %s\n", id, msg)
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d of %d files failed", len(report.Failed), report.Files)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&includes, "include", ragsvc.DefaultIncludes, "Glob patterns of files to index (doublestar syntax).")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Glob patterns of files or directories to skip.")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show a progress bar.")
	return cmd
}

func newAskCommand(opts *options.ServerOptions) *cobra.Command {
	var topK, tokenBudget int
	var noCache bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withRuntime(opts, func(ctx context.Context, rt *ragsvc.Runtime) error {
				answerOpts := biz.AnswerOptions{TopK: topK, TokenBudget: tokenBudget}
				if noCache {
					answerOpts.TTL = -1
				}
				answer, err := rt.Service.Answer(ctx, question, answerOpts)
				if err != nil {
					return err
				}
				return printJSON(cmd, answer)
			})
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (0 = rag.top-k).")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Context token budget (0 = rag.token-budget).")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not store the answer in the query cache.")
	return cmd
}

func newCheckCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the embedding and chat providers",
		Long: `Send one minimal request to the embedding provider and one to the chat
provider. Reports the embedding dimension, the reply and the tokens used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.LogOptions.Init(); err != nil {
				return err
			}

			res, probeErr := cfg.Probe(setupSignalContext())
			if res != nil {
				if err := printJSON(cmd, res); err != nil {
					return err
				}
			}
			if probeErr != nil {
				return probeErr
			}
			if !res.DimensionMatches {
				return fmt.Errorf("embedding dimension %d does not match store.dimension %d",
					res.EmbeddingDimension, cfg.StoreOptions.Dimension)
			}
			return nil
		},
	}
}

func newAuditCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Review the settings that drive provider cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			report := cfg.Audit()
			out := cmd.OutOrStdout()
			for _, f := range report.Findings {
				fmt.Fprintf(out, "[%-4s] %-22s %s\n", f.Status, f.Name, f.Value)
				if f.Hint != "" {
					fmt.Fprintf(out, "       %s\n", f.Hint)
				}
			}
			fmt.Fprintln(out)
			if report.FullyOptimized() {
				fmt.Fprintf(out, "All cost settings look good: %s\n", strings.Join(report.Optimized, ", "))
				return nil
			}
			fmt.Fprintf(out, "Recommended changes: %d\n", len(report.Recommended))
			return nil
		},
	}
}

func newClearCacheCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every cached answer and cached embedding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *ragsvc.Runtime) error {
				if err := rt.ClearCaches(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Caches cleared.")
				return nil
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
