package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/raphaelgruber/chatsync/internal/history"
	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Long: `List sessions from the last conversation listing received from the
backend, plus sessions that only have a local transcript.

The selected session is marked with *, sessions with a cached transcript
with "cached".`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

// sessionRow is one line of the sessions listing.
type sessionRow struct {
	id       string
	title    string
	modified string
	cached   bool
	selected bool
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := localStore.ConversationList(ctx)
	if err != nil {
		return fmt.Errorf("read conversation list: %w", err)
	}
	list, err := history.ParseConversationList(raw)
	if err != nil {
		logger.Warn("ignoring corrupt conversation list", "error", err)
	}
	cached, err := localStore.CachedSessions(ctx)
	if err != nil {
		return err
	}
	selected, err := localStore.SelectedChatID(ctx)
	if err != nil {
		return fmt.Errorf("read selected chat: %w", err)
	}

	rows := sessionRows(list, cached, selected)
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet.")
		return nil
	}
	printSessions(cmd.OutOrStdout(), rows)
	return nil
}

// sessionRows lists the backend's sessions in listing order, then sessions
// only known locally in id order.
func sessionRows(list []models.ConversationSummary, cached []string, selected string) []sessionRow {
	rows := make([]sessionRow, 0, len(list)+len(cached))
	seen := make(map[string]struct{}, len(list))
	for _, c := range list {
		seen[c.SessionID] = struct{}{}
		rows = append(rows, sessionRow{
			id:       c.SessionID,
			title:    c.Title,
			modified: c.LastModifiedDate,
			cached:   slices.Contains(cached, c.SessionID),
			selected: c.SessionID == selected,
		})
	}
	for _, id := range cached {
		if _, ok := seen[id]; ok {
			continue
		}
		rows = append(rows, sessionRow{id: id, cached: true, selected: id == selected})
	}
	return rows
}

func printSessions(w io.Writer, rows []sessionRow) {
	for _, r := range rows {
		marker := " "
		if r.selected {
			marker = "*"
		}
		state := ""
		if r.cached {
			state = "cached"
		}
		fmt.Fprintf(w, "%s %-32s %-6s %-24s %s\n", marker, r.id, state, r.modified, r.title)
	}
}
