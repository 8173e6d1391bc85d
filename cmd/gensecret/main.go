// Command gensecret prints a random hex key for SECRET_KEY
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const (
	defaultKeyBytes = 32
	minKeyBytes     = 16
)

func main() {
	if err := run(os.Args[1:], rand.Reader, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err) // nolint:errcheck
		os.Exit(1)
	}
}

func run(args []string, random io.Reader, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	n := fs.IntP("bytes", "n", defaultKeyBytes, "Key size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < minKeyBytes {
		return fmt.Errorf("key must be at least %d bytes, got %d", minKeyBytes, *n)
	}

	b := make([]byte, *n)
	if _, err := io.ReadFull(random, b); err != nil {
		return err
	}

	_, err := fmt.Fprintln(out, hex.EncodeToString(b))
	return err
}
