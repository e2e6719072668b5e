// Command tradax is a terminal client for the auth and wallet services.
//
// Credentials persist between invocations in the configured backend, so a
// `tradax login` is followed by any number of wallet commands until `tradax logout`.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"tradax/internal/platform/config"
	"tradax/internal/platform/logger"
	dErrors "tradax/pkg/domain-errors"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], config.FromEnv(), os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// run parses global flags, wires the client stack and executes one command.
func run(ctx context.Context, args []string, cfg config.Client, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tradax", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.AuthServiceURL, "auth-url", cfg.AuthServiceURL, "Auth service base URL")
	fs.StringVar(&cfg.WalletServiceURL, "wallet-url", cfg.WalletServiceURL, "Wallet service base URL")
	fs.StringVar(&cfg.CredentialBackend, "backend", cfg.CredentialBackend, "Credential backend: file|memory|redis")
	fs.StringVar(&cfg.CredentialPath, "credentials", cfg.CredentialPath, "Credential file (file backend)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		usage(fs)
		return errUsage
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(fs)
		return errUsage
	}
	cfg.AuthServiceURL = strings.TrimRight(cfg.AuthServiceURL, "/")
	cfg.WalletServiceURL = strings.TrimRight(cfg.WalletServiceURL, "/")

	log := logger.NewWithWriter(stderr, cfg.LogLevel)
	a, err := newApp(ctx, cfg, log, stdout)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	cmdFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	cmdFlags.SetOutput(stderr)
	inv := &invocation{app: a, flags: cmdFlags, stdin: stdin}
	bind := cmd.run(inv)
	if err := cmdFlags.Parse(fs.Args()[1:]); err != nil {
		return errUsage
	}
	if err := bind(ctx); err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return err
	}
	return nil
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "Usage: tradax [flags] <command> [command flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-16s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
}
