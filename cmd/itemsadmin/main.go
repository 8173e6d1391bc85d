package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err) // nolint:errcheck
		cancel()
		os.Exit(1)
	}
}

// run loads configuration (defaults < .env < environment < flags) and executes the command
func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) error {
	cfg := NewConfig(os.UserHomeDir)
	if err := cfg.LoadDotEnv(os.Getwd); err != nil {
		return fmt.Errorf("can't load .env: %w", err)
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return fmt.Errorf("can't load environment: %w", err)
	}

	c := newCLI(cfg, appDeps{errOut: errOut}, out)
	defer c.Close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	return root.ExecuteContext(ctx)
}
