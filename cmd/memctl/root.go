package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-memories/pkg/memories/client"
)

type globalOptions struct {
	server  string
	token   string
	retries int
	timeout time.Duration
}

func (o *globalOptions) client(extra ...client.ClientOption) *client.Client {
	opts := []client.ClientOption{client.WithRetry(o.retries, time.Second)}
	if o.token != "" {
		opts = append(opts, client.WithToken(o.token))
	}
	if o.timeout > 0 {
		opts = append(opts, client.WithHTTPClient(newHTTPClient(o.timeout)))
	}
	return client.NewClient(o.server, append(opts, extra...)...)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "memctl",
		Short:         "memctl uploads files and manages memories on a memories server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("MEMCTL_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("MEMCTL_TOKEN"), "bearer token")
	cmd.PersistentFlags().IntVar(&opts.retries, "retries", 3, "attempts per chunk upload")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "HTTP client timeout (0 keeps the client default)")

	cmd.AddCommand(
		newCapsuleCmd(opts),
		newUploadCmd(opts),
		newSessionCmd(opts),
		newBlobCmd(opts),
		newMemoryCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != count {
			return errors.New(message)
		}
		return nil
	}
}
