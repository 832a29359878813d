// Package ledger accumulates per-day input and output token counts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/raphaelgruber/chatsync/internal/store"
)

// dateLayout matches JavaScript's Date.prototype.toDateString.
const dateLayout = "Mon Jan 02 2006"

// DateKey returns the ledger key of the calendar day containing t, in t's location.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// Ledger stores totals as stringified integers under
// inputTokens-<date> and outputTokens-<date>.
type Ledger struct {
	kv     store.KV
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a ledger over kv.
func New(kv store.KV, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{kv: kv, logger: logger}
}

func inputKey(date string) string  { return "inputTokens-" + date }
func outputKey(date string) string { return "outputTokens-" + date }

// AddTokens increments the entry for date and returns the new totals.
func (l *Ledger) AddTokens(ctx context.Context, date string, input, output int) (models.TokenTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.read(ctx, date)
	if err != nil {
		return models.TokenTotals{}, err
	}
	next := models.TokenTotals{
		InputTokens:  cur.InputTokens + max(input, 0),
		OutputTokens: cur.OutputTokens + max(output, 0),
	}
	if err := l.kv.Set(ctx, inputKey(date), strconv.Itoa(next.InputTokens)); err != nil {
		return cur, fmt.Errorf("save input tokens: %w", err)
	}
	if err := l.kv.Set(ctx, outputKey(date), strconv.Itoa(next.OutputTokens)); err != nil {
		return cur, fmt.Errorf("save output tokens: %w", err)
	}
	return next, nil
}

// ReadTotals returns the entry for date, {0,0} when none exists.
func (l *Ledger) ReadTotals(ctx context.Context, date string) (models.TokenTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx, date)
}

func (l *Ledger) read(ctx context.Context, date string) (models.TokenTotals, error) {
	in, err := l.readInt(ctx, inputKey(date))
	if err != nil {
		return models.TokenTotals{}, err
	}
	out, err := l.readInt(ctx, outputKey(date))
	if err != nil {
		return models.TokenTotals{}, err
	}
	return models.TokenTotals{InputTokens: in, OutputTokens: out}, nil
}

func (l *Ledger) readInt(ctx context.Context, key string) (int, error) {
	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.logger.Warn("ignoring unparseable token count", "key", key, "value", raw)
		return 0, nil
	}
	return n, nil
}
