package cli

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
	"time"

	"github.com/raphaelgruber/chatsync/internal/auth"
	"github.com/raphaelgruber/chatsync/internal/chat"
	"github.com/raphaelgruber/chatsync/internal/frame"
	"github.com/raphaelgruber/chatsync/internal/ledger"
	"github.com/raphaelgruber/chatsync/internal/metrics"
	"github.com/raphaelgruber/chatsync/internal/transport"
	"github.com/spf13/cobra"
)

const restTimeout = 2 * time.Minute

var chatNoStats bool

var errQuit = errors.New("quit")

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the configured gateway.

Without a session id the last selected session is resumed, or a new one is
started. Lines are sent as prompts; lines starting with / are commands:

  /retry          resend the last prompt after an error or a hung response
  /discard        drop a pending response
  /new            start a new session
  /clear          clear the current session locally and on the backend
  /switch <id>    switch to another session
  /sessions       list known sessions
  /models         request the model list
  /quit           exit

Examples:
  chatsync chat
  chatsync chat session-k2x9f0a1b2c3
  chatsync chat --store memory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatNoStats, "no-stats", false, "do not print session statistics on exit")
}

// newAuthProvider picks the token file when configured, else the env tokens.
func newAuthProvider() auth.Provider {
	var src auth.Source = auth.StaticSource{IDToken: cfg.IDToken, AccessToken: cfg.AccessToken}
	if cfg.TokenFile != "" {
		src = auth.FileSource{Path: cfg.TokenFile}
	}
	return auth.NewCached(src, auth.DefaultSkew, logger)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	renderer := newTerminalRenderer(out, isTerminal(out))
	collector := metrics.NewCollector()

	socket := transport.NewSocket(transport.SocketConfig{
		URL:              cfg.SocketURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
	}, logger)

	opts := chat.Options{
		Store:     localStore,
		Ledger:    ledger.New(localStore.KV(), logger),
		Auth:      newAuthProvider(),
		Transport: socket,
		Renderer:  renderer,
		Metrics:   collector,
		Mode:      frame.Mode{Category: cfg.ModelCategory, ModelID: cfg.ModelID},
		Logger:    logger,
	}
	if cfg.RESTURL != "" {
		opts.Fallback = transport.NewREST(cfg.RESTURL, restTimeout)
	}
	engine, err := chat.New(opts)
	if err != nil {
		return err
	}

	go func() {
		if err := socket.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("socket stopped", "error", err)
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "error", err)
		}
	}()

	if len(args) == 1 {
		if err := engine.SelectSession(ctx, args[0]); err != nil {
			return fmt.Errorf("select session: %w", err)
		}
	}

	lines := readLines(cmd.InOrStdin())
	err = chatLoop(ctx, engine, renderer, lines)
	stop()
	<-engine.Done()

	if !chatNoStats {
		fmt.Fprintln(out)
		printStats(out, collector.Snapshot())
	}
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines scans r on its own goroutine; the channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func chatLoop(ctx context.Context, engine *chat.Engine, r *terminalRenderer, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-engine.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := handleLine(ctx, engine, r, line); err != nil {
				return err
			}
		}
	}
}

// handleLine runs one prompt or slash command. Only errQuit and
// chat.ErrStopped end the session; other errors are shown inline.
func handleLine(ctx context.Context, engine *chat.Engine, r *terminalRenderer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var err error
	if !strings.HasPrefix(line, "/") {
		err = engine.Send(ctx, line, nil)
	} else {
		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return errQuit
		case "/retry":
			err = engine.Retry(ctx)
		case "/discard":
			err = engine.Discard(ctx)
		case "/new":
			err = engine.NewChat(ctx)
		case "/clear":
			err = engine.ClearConversation(ctx)
		case "/switch":
			if arg == "" {
				r.hintf("usage: /switch <session-id>")
				return nil
			}
			err = engine.SelectSession(ctx, arg)
		case "/sessions":
			snap := engine.Snapshot()
			if len(snap.Conversations) == 0 {
				r.hintf("no sessions listed yet")
			}
			for _, c := range snap.Conversations {
				marker := " "
				if c.SessionID == snap.Session.SessionID {
					marker = "*"
				}
				r.hintf("%s %s  %s", marker, c.SessionID, c.Title)
			}
		case "/models":
			err = engine.LoadConfig(ctx, frame.SubactionLoadModels)
		default:
			r.hintf("unknown command %s", name)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, chat.ErrStopped):
		return err
	case errors.Is(err, chat.ErrGenerationInProgress):
		r.hintf("a response is still streaming; /retry or /discard if it hangs")
	case errors.Is(err, chat.ErrNothingToRetry):
		r.hintf("nothing to retry")
	default:
		r.hintf("error: %v", err)
	}
	return nil
}
