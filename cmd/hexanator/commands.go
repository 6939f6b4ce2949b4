package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hexanator"
	"github.com/loykin/hexanator/internal/auth"
	"github.com/loykin/hexanator/internal/reconcile"
)

const shutdownTimeout = 5 * time.Second

// ReconcileFlags holds flags for the reconcile command
type ReconcileFlags struct {
	URLDir string
}

// createRunCommand is the entrypoint of a launched server. It is hidden:
// the supervisor invokes it as "hexanator [flags] run -- NAME".
func createRunCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:    "run NAME",
		Short:  "Serve NAME in the foreground until SIGTERM",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sup, err := c.openLocal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			return sup.RunServer(ctx, args[0])
		},
	}
}

func createStartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start NAME",
		Short: "Start NAME unless it is already running and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), c, func(ctl controller) error {
				res, err := ctl.Start(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Name, res.URL)
				return nil
			})
		},
	}
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop NAME and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), c, func(ctl controller) error {
				return ctl.Stop(cmd.Context(), args[0])
			})
		},
	}
}

func createListCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every name in the ledger, running or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd.Context(), c, func(ctl controller) error {
				names, err := ctl.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range names {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

func createReconcileCommand(c command, flags *ReconcileFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile FILE",
		Short: "Run exactly the names listed in FILE",
		Long: `Reconcile reads whitespace separated names from FILE, stops every known
server that is not listed and starts every listed one. The base URLs of the
started servers are written to FILE with its extension replaced by .out and
to one <name>.url file per server in --url-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wanted, err := reconcile.ReadWanted(args[0])
			if err != nil {
				return fmt.Errorf("read wanted names: %w", err)
			}
			return withController(cmd.Context(), c, func(ctl controller) error {
				urls, rerr := ctl.Reconcile(cmd.Context(), wanted)
				pub := reconcile.Publisher{Dir: flags.URLDir}
				if err := pub.WriteURLs(reconcile.SummaryPath(args[0]), urls); err != nil {
					return errors.Join(rerr, err)
				}
				printURLs(cmd.OutOrStdout(), wanted, urls)
				return rerr
			})
		},
	}
	cmd.Flags().StringVar(&flags.URLDir, "url-dir", ".", "directory receiving <name>.url files")
	return cmd
}

func createArtifactsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts NAME",
		Short: "Print the requests recorded by NAME as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), c, func(ctl controller) error {
				arts, err := ctl.Artifacts(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), arts)
			})
		},
	}
}

func createServeCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API until SIGINT or SIGTERM",
		Long: `Serve exposes start, stop, list, reconcile and artifact queries over HTTP
on server.listen under server.base_path. With metrics.enabled, /metrics is
mounted on the same listener, or on metrics.listen when that is set.
[server.tls] and [server.auth] secure the listener; [[reconcile_jobs]] are
run on their schedules while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
}

func runServe(ctx context.Context, c command) error {
	sup, err := c.openLocal(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	cfg := sup.Config()
	lg := sup.Logger()

	if cfg.Metrics.Enabled {
		if err := hexanator.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	api, err := sup.NewHTTPServer()
	if err != nil {
		return err
	}
	servers := []*http.Server{api}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		servers = append(servers, hexanator.NewMetricsServer(cfg.Metrics.Listen))
	}

	sched, err := sup.NewScheduler()
	if err != nil {
		return err
	}
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			lg.Info("listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case serveErr = <-errCh:
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			lg.Warn("shutdown", "addr", srv.Addr, "error", err)
		}
	}
	return serveErr
}

func createHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print a bcrypt hash for server.auth.password_hash",
		Long: `Hash-password prints the bcrypt hash of PASSWORD, or of the first line
read from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			h, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func withController(ctx context.Context, c command, fn func(controller) error) error {
	ctl, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ctl.Close() }()
	return fn(ctl)
}

func printURLs(w io.Writer, names []string, urls map[string]string) {
	for _, n := range names {
		if u, ok := urls[n]; ok {
			_, _ = fmt.Fprintf(w, "%s: %s\n", n, u)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
