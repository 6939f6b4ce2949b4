package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hexanator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	// APIURL switches start/stop/list/reconcile/artifacts to a running
	// `hexanator serve` instead of the local ledger.
	APIURL      string
	APITimeout  time.Duration
	APIToken    string
	APIUser     string
	APIPassword string
	APICACert   string
	APIInsecure bool
}

// exitCode is 2 for a process that survived SIGKILL, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, hexanator.ErrConsistency) {
		return 2
	}
	return 1
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	c := command{flags: flags}
	reconcileFlags := &ReconcileFlags{}

	root := createRootCommand(flags)
	root.AddCommand(
		createRunCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createListCommand(c),
		createReconcileCommand(c, reconcileFlags),
		createArtifactsCommand(c),
		createServeCommand(c),
		createHashPasswordCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hexanator",
		Short: "Supervisor for named request-recording HTTP servers",
		Long: `Hexanator keeps named recorder servers running. Each server records every
request it receives as a JSON artifact. State lives in a shared ledger, so any
number of hexanator invocations may act on the same names at once.

Examples:
  hexanator start aa                       # prints aa: http://localhost:PORT/
  hexanator reconcile wanted.txt           # converge on the names in the file
  hexanator artifacts aa
  hexanator serve                          # control API on server.listen
  hexanator list --api-url=http://remote:8080/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.APIURL, "api-url", "", "control API base URL, e.g. http://127.0.0.1:8080/api")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "control API request timeout")
	root.PersistentFlags().StringVar(&flags.APIToken, "api-token", os.Getenv("HEXANATOR_API_TOKEN"), "bearer token for the control API")
	root.PersistentFlags().StringVar(&flags.APIUser, "api-user", "", "control API username (Basic auth)")
	root.PersistentFlags().StringVar(&flags.APIPassword, "api-password", os.Getenv("HEXANATOR_API_PASSWORD"), "control API password (Basic auth)")
	root.PersistentFlags().StringVar(&flags.APICACert, "api-ca-cert", "", "CA certificate trusted for an https control API")
	root.PersistentFlags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS verification of the control API")
	return root
}
