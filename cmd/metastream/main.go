package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fastzet/metastream/internal/apiclient"
	"github.com/fastzet/metastream/internal/config"
	"github.com/fastzet/metastream/internal/logging"
	"github.com/fastzet/metastream/internal/querycache"
	"github.com/fastzet/metastream/internal/server"
	"github.com/fastzet/metastream/internal/tui"
)

var version = "dev"

// shutdownTimeout bounds draining requests and waiting for prefetches.
const shutdownTimeout = 30 * time.Second

// PageFunc fetches one page of results. Tests inject one; otherwise it is
// built from the flags of the command being run.
type PageFunc = tui.PageFunc

// loadConfig is a package-level var so tests can replace it.
var loadConfig = config.Load

// teaRunner abstracts tea.Program.Run for testability.
type teaRunner interface {
	Run() (tea.Model, error)
}

var newTeaProgram = func(m tea.Model) teaRunner {
	return tea.NewProgram(m, tea.WithAltScreen())
}

// makeSignalCh returns a channel notified on SIGINT/SIGTERM and a stop func.
var makeSignalCh = func() (chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// httpServer is the part of server.Server that serveLoop drives.
type httpServer interface {
	Serve() error
	Addr() string
	Shutdown(ctx context.Context) error
}

func newRootCmd(pageFn PageFunc, out io.Writer) *cobra.Command {
	var configPath, serverURL string

	root := &cobra.Command{
		Use:           "metastream",
		Short:         "MetaStream: one ranked, paged search across video sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "base URL of a running metastream server; empty searches in-process")

	// resolve returns the page source for search and interactive, plus a
	// cleanup to run once the command is done with it. cacheOpts apply to
	// the in-process cache only.
	resolve := func(ctx context.Context, cacheOpts ...querycache.Option) (PageFunc, func(), error) {
		if pageFn != nil {
			return pageFn, func() {}, nil
		}
		if serverURL != "" {
			c := apiclient.New(serverURL, &http.Client{Timeout: 2 * time.Minute})
			return c.SearchPage, func() {}, nil
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
			return nil, nil, err
		}
		st, err := buildStack(ctx, cfg, cacheOpts...)
		if err != nil {
			return nil, nil, err
		}
		return st.pageFunc(), func() {
			if err := st.close(shutdownTimeout); err != nil {
				slog.Warn("Shutdown incomplete", "error", err)
			}
		}, nil
	}

	var page int
	searchCmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search every provider and print one page of ranked results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 {
				return errors.New("--page must be a positive integer")
			}
			// One page is printed and the process exits, so a prefetch of the
			// next page would only delay the exit.
			fn, cleanup, err := resolve(cmd.Context(), querycache.WithoutPrefetch())
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := fn(cmd.Context(), strings.Join(args, " "), page)
			if err != nil {
				return err
			}
			printPage(out, p)
			return nil
		},
	}
	searchCmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")

	interactiveCmd := &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"tui"},
		Short:   "Browse results page by page in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, cleanup, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = newTeaProgram(tui.NewModel(fn)).Run()
			return err
		},
	}

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, addr, cmd.Flags().Changed("addr"), out)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", config.DefaultServerAddr, "listen address")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "metastream version %s\n", version)
		},
	}

	root.AddCommand(searchCmd, interactiveCmd, serveCmd, versionCmd)
	return root
}

func printPage(out io.Writer, p querycache.Page) {
	if len(p.Failed) > 0 {
		fmt.Fprintf(out, "Unavailable: %s\n\n", strings.Join(p.Failed, ", "))
	}
	if len(p.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	cached := ""
	if p.Cached {
		cached = ", cached"
	}
	fmt.Fprintf(out, "Page %d: %d results in %.2fs%s\n\n", p.Page, p.Count, p.ElapsedTime, cached)
	for i, r := range p.Results {
		fmt.Fprintf(out, "%d. %s\n   %s\n   [%s] %s | %s views | %s | score %.1f\n\n",
			i+1, r.Title, r.URL, r.Source, r.Duration, r.Views, r.Rating, r.Score)
	}
}

func runServe(ctx context.Context, configPath, addr string, addrSet bool, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addrSet {
		cfg.ServerAddr = addr
	}
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	slog.Info("Configuration loaded", cfg.LogSummary()...)

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg.ServerAddr,
		server.WithSearch(st.cache),
		server.WithProviders(st.monitor.Statuses),
		server.WithMetrics(st.metricsHandler()),
	)
	if err := srv.Listen(); err != nil {
		_ = st.close(shutdownTimeout)
		return fmt.Errorf("failed to listen on %s: %w", cfg.ServerAddr, err)
	}
	if err := st.monitor.Start(); err != nil {
		_ = st.close(shutdownTimeout)
		return err
	}

	fmt.Fprintf(out, "Listening on %s\n", srv.Addr())
	serveErr := serveLoop(srv, out)
	return errors.Join(serveErr, st.close(shutdownTimeout))
}

// serveLoop runs the server until it fails or a signal arrives, then shuts
// it down gracefully.
func serveLoop(srv httpServer, out io.Writer) error {
	sigCh, stop := makeSignalCh()
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		fmt.Fprintf(out, "Received %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func runWithOutput(args []string, pageFn PageFunc, out io.Writer) error {
	cmd := newRootCmd(pageFn, out)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd.Execute()
}

func run(args []string, pageFn PageFunc) error {
	return runWithOutput(args, pageFn, os.Stdout)
}

func main() {
	if err := run(os.Args[1:], nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
