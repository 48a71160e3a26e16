package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	serverURL      string
	token          string
	username       string
	password       string
	conversationID string
	message        string
	resume         bool
)

var rootCmd = &cobra.Command{
	Use:   "sage-chat",
	Short: "Talk to Sage from the terminal",
	Long: `Talk to Sage from the terminal.

Without --message an interactive session starts. Type a message and press
enter, answer checkpoints with /confirm, /reject or /refine, and resend a
failed turn with /retry.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverURL, "server", envOr("SAGE_SERVER", "http://localhost:8080"), "server base URL")
	flags.StringVar(&token, "token", os.Getenv("SAGE_TOKEN"), "bearer token; skips login")
	flags.StringVarP(&username, "username", "u", "demo", "username for login")
	flags.StringVarP(&password, "password", "p", envOr("SAGE_PASSWORD", "demo123"), "password for login")
	flags.StringVarP(&conversationID, "conversation", "c", "", "conversation id to continue")
	flags.StringVarP(&message, "message", "m", "", "send one message and exit")
	flags.BoolVar(&resume, "resume", true, "continue the most recent conversation when --conversation is empty")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := NewClient(serverURL, token)
	if token == "" {
		if err := client.Login(ctx, username, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	if conversationID == "" && resume {
		latest, err := client.LatestConversation(ctx)
		if err != nil {
			return err
		}
		conversationID = latest
	}

	out := cmd.OutOrStdout()
	session := NewSession(client, conversationID, out)

	if cmd.Flags().Changed("message") {
		return session.Send(ctx, &message)
	}

	// A new conversation starts with Sage speaking first
	if conversationID == "" {
		if err := session.Send(ctx, nil); err != nil {
			fmt.Fprintln(out, "  the opening turn failed; type /retry or say hello")
		}
	}
	return session.Loop(ctx, cmd.InOrStdin())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
