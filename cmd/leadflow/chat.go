package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/autostream/leadflow/internal/agent"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/models"
)

var (
	chatThread          string
	chatTemplateReplies bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Starts an interactive conversation on one thread.

Type 'quit' or 'exit' to stop. Commands:
  /thread [id]  show or switch the current thread
  /new          start a fresh thread
  /state        show what the agent knows about this thread
  /help         show this help`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatThread, "thread", "t", "default", "Conversation thread id")
	chatCmd.Flags().BoolVar(&chatTemplateReplies, "template-replies", false, "Reply from fixed templates instead of the model")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{templateReplies: chatTemplateReplies})
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.Available(ctx) {
		log.Warn().Str("endpoint", cfg.LLM.Endpoint).Msg("model server is not reachable; turns will fail until it is")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s AI Agent (leadflow %s)\n", cfg.Agent.ProductName, version)
	fmt.Fprintf(out, "Type 'quit' to exit\n\n")

	return runREPL(ctx, a.orchestrator, chatThread, os.Stdin, out)
}

// chatter is the part of the orchestrator the REPL needs
type chatter interface {
	Chat(ctx context.Context, threadID, message string) (agent.Reply, error)
	State(ctx context.Context, threadID string) (*models.ConversationState, error)
}

// runREPL reads one message per line until quit, EOF or cancellation
func runREPL(ctx context.Context, c chatter, threadID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		if strings.HasPrefix(input, "/") {
			threadID = handleCommand(ctx, c, threadID, input, out)
			continue
		}

		reply, err := c.Chat(ctx, threadID, input)
		var turnErr *agent.TurnError
		if err != nil && !errors.As(err, &turnErr) {
			fmt.Fprintf(out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "Agent: %s\n\n", reply.Text)
	}
}

// handleCommand runs a slash command and returns the thread to continue on
func handleCommand(ctx context.Context, c chatter, threadID, input string, out io.Writer) string {
	parts := strings.Fields(input)

	switch parts[0] {
	case "/thread":
		if len(parts) > 1 {
			threadID = parts[1]
			fmt.Fprintf(out, "Switched to thread %s\n\n", threadID)
		} else {
			fmt.Fprintf(out, "Thread: %s\n\n", threadID)
		}
	case "/new":
		threadID = uuid.NewString()
		fmt.Fprintf(out, "Started thread %s\n\n", threadID)
	case "/state":
		printState(ctx, c, threadID, out)
	case "/help":
		fmt.Fprintln(out, "Commands: /thread [id] /new /state /help, or 'quit' to exit")
		fmt.Fprintln(out)
	default:
		fmt.Fprintf(out, "Unknown command %s (try /help)\n\n", parts[0])
	}
	return threadID
}

func printState(ctx context.Context, c chatter, threadID string, out io.Writer) {
	state, err := c.State(ctx, threadID)
	if errors.Is(err, memory.ErrThreadNotFound) {
		fmt.Fprintf(out, "Thread %s has no messages yet\n\n", threadID)
		return
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n\n", err)
		return
	}

	intent := string(state.Intent)
	if intent == "" {
		intent = "-"
	}
	fmt.Fprintf(out, "Thread:   %s\n", state.ThreadID)
	fmt.Fprintf(out, "Turns:    %d\n", state.Turns)
	fmt.Fprintf(out, "Intent:   %s\n", intent)
	fmt.Fprintf(out, "Name:     %s\n", orDash(state.Lead.Name))
	fmt.Fprintf(out, "Email:    %s\n", orDash(state.Lead.Email))
	fmt.Fprintf(out, "Platform: %s\n", orDash(state.Lead.Platform))
	fmt.Fprintf(out, "Captured: %t\n\n", state.LeadCaptured)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
