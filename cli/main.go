// Command aichat-cli is a console client for a chat protocol endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/aichat/client"
	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/observability"
)

var (
	endpoint  string
	timeout   time.Duration
	logLevel  string
	streaming bool
	useWS     bool
	files     []string

	rootCmd = &cobra.Command{
		Use:   "aichat-cli",
		Short: "Chat with an AI chat protocol endpoint",
		Long: `aichat-cli talks to a chat endpoint. Without a subcommand it starts an
interactive session that keeps the server-issued session state between turns.`,
		SilenceUsage: true,
		RunE:         runChat,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE:  runChat,
	}

	sendCmd = &cobra.Command{
		Use:   "send [message]",
		Short: "Send a single message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
)

func init() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.LoadClient()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&endpoint, "endpoint", "e", cfg.ChatEndpoint, "chat endpoint URL (env AICHATPROTOCOL_CHAT_ENDPOINT)")
	flags.DurationVar(&timeout, "timeout", cfg.Timeout, "per-call timeout, 0 for none")
	flags.StringVar(&logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVarP(&streaming, "stream", "s", false, "stream replies over HTTP")
	flags.BoolVar(&useWS, "ws", false, "stream replies over WebSocket")

	sendCmd.Flags().StringSliceVarP(&files, "file", "f", nil, "attach a file (repeatable)")

	rootCmd.AddCommand(chatCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newConsole(cmd *cobra.Command) (*console, error) {
	cfg := &config.ClientConfig{ChatEndpoint: endpoint, Timeout: timeout, LogLevel: logLevel}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, "text")
	opts := []client.Option{client.WithLogger(logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.Timeout))
	}
	c, err := client.NewClient(cfg.ChatEndpoint, opts...)
	if err != nil {
		return nil, err
	}

	mode := modeHTTP
	switch {
	case useWS:
		mode = modeWS
	case streaming:
		mode = modeStream
	}
	return newConsoleWith(c, cmd.OutOrStdout(), mode), nil
}

func runChat(cmd *cobra.Command, args []string) error {
	con, err := newConsole(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return con.repl(ctx, cmd.InOrStdin())
}

func runSend(cmd *cobra.Command, args []string) error {
	con, err := newConsole(cmd)
	if err != nil {
		return err
	}
	attachments, err := readAttachments(files)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return con.ask(ctx, args[0], attachments)
}
