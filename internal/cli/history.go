package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Export formats for the history command.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Print a cached transcript",
	Long: `Print the locally cached transcript of a session.

Without a session id the last selected session is printed.

Examples:
  chatsync history
  chatsync history session-k2x9f0a1b2c3 --format json
  chatsync history session-k2x9f0a1b2c3 --format yaml > chat.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", formatText, "output format: text, json, or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var sessionID string
	if len(args) == 1 {
		sessionID = args[0]
	} else {
		selected, err := localStore.SelectedChatID(ctx)
		if err != nil {
			return fmt.Errorf("read selected chat: %w", err)
		}
		if selected == "" {
			return fmt.Errorf("no session selected; pass a session id")
		}
		sessionID = selected
	}

	msgs, err := localStore.LoadTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	if msgs == nil {
		return fmt.Errorf("no cached transcript for %s", sessionID)
	}
	return writeTranscript(cmd.OutOrStdout(), historyFormat, msgs)
}

// exportMessage is the YAML shape of a transcript entry.
type exportMessage struct {
	Role         string `yaml:"role"`
	Content      string `yaml:"content"`
	MessageID    string `yaml:"message_id,omitempty"`
	Timestamp    string `yaml:"timestamp,omitempty"`
	Model        string `yaml:"model,omitempty"`
	InputTokens  int    `yaml:"input_tokens,omitempty"`
	OutputTokens int    `yaml:"output_tokens,omitempty"`
	Error        string `yaml:"error,omitempty"`
}

func toExport(m models.Message) exportMessage {
	e := exportMessage{
		Role:         string(m.Role),
		Content:      m.Content.String(),
		MessageID:    m.MessageID,
		Model:        m.Model,
		InputTokens:  m.InputTokenCount,
		OutputTokens: m.OutputTokenCount,
	}
	if m.Timestamp != nil {
		e.Timestamp = *m.Timestamp
	}
	if m.Error != nil {
		e.Error = *m.Error
	}
	return e
}

// writeTranscript renders msgs in format. JSON keeps the stored shape.
func writeTranscript(w io.Writer, format string, msgs []models.Message) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	case formatYAML:
		out := make([]exportMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, toExport(m))
		}
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(out)
	case formatText:
		for _, m := range msgs {
			ts := ""
			if m.Timestamp != nil {
				ts = " [" + *m.Timestamp + "]"
			}
			fmt.Fprintf(w, "%s%s:\n%s\n", m.Role, ts, m.Content.String())
			if m.Error != nil {
				fmt.Fprintf(w, "error: %s\n", *m.Error)
			}
			fmt.Fprintln(w)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json, or yaml)", format)
	}
}
