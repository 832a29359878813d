// Package chat runs the client event loop: inbound frames, user commands,
// and async completions are applied to the reconciler on one goroutine in
// arrival order.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/chatsync/internal/auth"
	"github.com/raphaelgruber/chatsync/internal/frame"
	"github.com/raphaelgruber/chatsync/internal/history"
	"github.com/raphaelgruber/chatsync/internal/ledger"
	"github.com/raphaelgruber/chatsync/internal/metrics"
	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/raphaelgruber/chatsync/internal/reconciler"
	"github.com/raphaelgruber/chatsync/internal/store"
)

var (
	// ErrGenerationInProgress is returned by Send while a response is streaming.
	ErrGenerationInProgress = errors.New("generation in progress")
	// ErrNothingToRetry is returned by Retry when there is no failed or hung generation.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrStopped is returned by commands issued after Run returned.
	ErrStopped = errors.New("engine stopped")
)

// Transport delivers inbound frames and sends outbound ones.
type Transport interface {
	Frames() <-chan []byte
	Send(ctx context.Context, v any) error
}

// Fallback posts an outbound frame over HTTP and returns the response frames.
type Fallback interface {
	Post(ctx context.Context, v any) ([][]byte, error)
}

// Options wires an Engine.
type Options struct {
	Store     *store.Store
	Ledger    *ledger.Ledger
	Auth      auth.Provider
	Transport Transport
	// Fallback is used when the socket is down. Optional.
	Fallback Fallback
	Renderer Renderer
	Metrics  *metrics.Collector
	Mode     frame.Mode
	Logger   *slog.Logger
	// Reconciler defaults to reconciler.New().
	Reconciler *reconciler.Reconciler
	Now        func() time.Time
}

// Engine owns the reconciler state of the active session.
type Engine struct {
	store     *store.Store
	ledger    *ledger.Ledger
	auth      auth.Provider
	transport Transport
	fallback  Fallback
	renderer  Renderer
	metrics   *metrics.Collector
	mode      frame.Mode
	logger    *slog.Logger
	rec       *reconciler.Reconciler
	now       func() time.Time

	cmds   chan func(context.Context)
	outbox chan outbound
	done   chan struct{}
	snap   atomic.Pointer[Snapshot]

	// Loop-owned.
	state      reconciler.State
	generation uint64
	totals     models.TokenTotals
	notice     string
	unknown    map[string]struct{}
	genStart   time.Time
	loadStart  time.Time
	// loadSent is set once the pending history request reached the backend.
	loadSent bool
	// reloadPending defers a reconnect reload until the generation ends.
	reloadPending bool
	// followUps are inputs raised while performing effects. apply runs them
	// after the current input's effects.
	followUps []reconciler.Input
}

// New validates opts and returns an engine. Call Run to start it.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Ledger == nil || opts.Auth == nil || opts.Transport == nil {
		return nil, errors.New("chat: store, ledger, auth, and transport are required")
	}
	e := &Engine{
		store:     opts.Store,
		ledger:    opts.Ledger,
		auth:      opts.Auth,
		transport: opts.Transport,
		fallback:  opts.Fallback,
		renderer:  opts.Renderer,
		metrics:   opts.Metrics,
		mode:      opts.Mode,
		logger:    opts.Logger,
		rec:       opts.Reconciler,
		now:       opts.Now,
		cmds:      make(chan func(context.Context)),
		outbox:    make(chan outbound, 256),
		done:      make(chan struct{}),
		unknown:   make(map[string]struct{}),
	}
	if e.renderer == nil {
		e.renderer = RendererFunc(func(Snapshot) {})
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCollector()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.rec == nil {
		e.rec = reconciler.New()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.snap.Store(&Snapshot{})
	return e, nil
}

// Run restores persisted state, selects the last active session (or starts
// a new one), and processes events until ctx is done or the transport's
// frame stream closes.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	go e.sendLoop(ctx)

	if err := e.restore(ctx); err != nil {
		return err
	}

	frames := e.transport.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				e.logger.Info("transport closed")
				return nil
			}
			e.handleFrame(ctx, raw)
		case cmd := <-e.cmds:
			cmd(ctx)
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

// Metrics returns the engine's collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

func (e *Engine) restore(ctx context.Context) error {
	lastID, err := e.store.LastTokenIdentifier(ctx)
	if err != nil {
		return fmt.Errorf("restore token identifier: %w", err)
	}
	e.state.LastTokenID = lastID

	if raw, err := e.store.ConversationList(ctx); err != nil {
		e.logger.Warn("read cached conversation list", "error", err)
	} else if list, err := history.ParseConversationList(raw); err != nil {
		e.logger.Warn("ignoring corrupt conversation list", "error", err)
	} else {
		e.state.Conversations = list
	}

	if totals, err := e.ledger.ReadTotals(ctx, ledger.DateKey(e.now())); err != nil {
		e.logger.Warn("read token totals", "error", err)
	} else {
		e.totals = totals
	}

	selected, err := e.store.SelectedChatID(ctx)
	if err != nil {
		e.logger.Warn("read selected chat", "error", err)
	}
	if selected == "" {
		e.newChat(ctx)
	} else {
		e.loadSession(ctx, selected)
	}
	return nil
}

// do runs fn on the loop goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	cmd := func(loopCtx context.Context) { errc <- fn(loopCtx) }
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// post schedules fn on the loop without waiting. Used by async completions.
func (e *Engine) post(fn func(context.Context)) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// Send submits a user message with optional attachments.
func (e *Engine) Send(ctx context.Context, text string, attachments []models.Part) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		if e.state.Streaming() {
			return ErrGenerationInProgress
		}
		msg := models.Message{
			Role:      models.RoleHuman,
			Content:   models.NewTextContent(text),
			MessageID: uuid.NewString(),
			Timestamp: models.StringPtr(frame.Timestamp(e.now())),
		}
		e.apply(loopCtx, reconciler.UserSend{Message: msg, Attachments: attachments})
		return nil
	})
}

// Retry replays the last user message after an error or a hung generation.
func (e *Engine) Retry(ctx context.Context) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		for _, eff := range e.apply(loopCtx, reconciler.Retry{}) {
			if ig, ok := eff.(reconciler.Ignored); ok && ig.Reason == reconciler.ReasonNoRetry {
				return ErrNothingToRetry
			}
		}
		return nil
	})
}

// Discard drops a pending response placeholder.
func (e *Engine) Discard(ctx context.Context) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		e.apply(loopCtx, reconciler.Discard{})
		return nil
	})
}

// SelectSession switches to sessionID and loads its history.
func (e *Engine) SelectSession(ctx context.Context, sessionID string) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		e.loadSession(loopCtx, sessionID)
		return nil
	})
}

// NewChat starts an empty session with a fresh id.
func (e *Engine) NewChat(ctx context.Context) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		e.newChat(loopCtx)
		return nil
	})
}

// ClearConversation drops the active session's history locally and on the backend.
func (e *Engine) ClearConversation(ctx context.Context) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		sess := e.state.Session
		if err := e.store.DeleteTranscript(loopCtx, sess.SessionID); err != nil {
			e.logger.Warn("delete cached transcript", "session_id", sess.SessionID, "error", err)
		}
		e.enqueue(outbound{build: func(t auth.TokenPair) any {
			return frame.ClearConversationFrame(sess, e.mode, t)
		}})
		e.generation++
		e.reloadPending = false
		e.apply(loopCtx, reconciler.BeginLoad{
			Session:  models.Session{SessionID: sess.SessionID},
			Strategy: history.Strategy{Kind: history.UseCache},
		})
		return nil
	})
}

// LoadConfig requests configuration data for subaction.
func (e *Engine) LoadConfig(ctx context.Context, subaction string) error {
	return e.do(ctx, func(context.Context) error {
		e.enqueue(outbound{build: configFrame(subaction)})
		return nil
	})
}

// RefreshConversations requests a fresh conversation listing.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	return e.LoadConfig(ctx, frame.SubactionLoadConversationList)
}

func configFrame(subaction string) func(auth.TokenPair) any {
	return func(t auth.TokenPair) any { return frame.ConfigFrame(subaction, t) }
}

func (e *Engine) newChat(ctx context.Context) {
	id := NewSessionID()
	e.generation++
	e.reloadPending = false
	if err := e.store.SetSelectedChatID(ctx, id); err != nil {
		e.logger.Warn("save selected chat", "session_id", id, "error", err)
	}
	// A fresh session has nothing to fetch.
	e.apply(ctx, reconciler.BeginLoad{
		Session:  models.Session{SessionID: id},
		Strategy: history.Strategy{Kind: history.UseCache},
	})
	e.logger.Info("new chat", "session_id", id)
}

// loadSession runs the history merger for sessionID.
func (e *Engine) loadSession(ctx context.Context, sessionID string) {
	e.generation++
	e.reloadPending = false
	if err := e.store.SetSelectedChatID(ctx, sessionID); err != nil {
		e.logger.Warn("save selected chat", "session_id", sessionID, "error", err)
	}

	cached, err := e.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		e.logger.Warn("ignoring unreadable cached transcript", "session_id", sessionID, "error", err)
		cached = nil
	}
	summary, _ := history.FindSummary(e.state.Conversations, sessionID)
	strategy := history.Plan(cached, summary)

	sess := models.Session{SessionID: sessionID}
	if e.state.Session.SessionID == sessionID {
		sess.KBSessionID = e.state.Session.KBSessionID
	}
	e.apply(ctx, reconciler.BeginLoad{Session: sess, Cached: cached, Strategy: strategy})
	e.logger.Info("session selected", "session_id", sessionID, "strategy", strategy.Kind.String(), "cached", len(cached))

	if strategy.NeedsFetch() {
		e.requestHistory()
	}
}

func (e *Engine) requestHistory() {
	if e.state.Loading == nil {
		return
	}
	sess := e.state.Session
	after := e.state.Loading.Strategy.AfterMessageID
	e.loadStart = e.now()
	e.loadSent = false
	e.enqueue(outbound{load: true, build: func(t auth.TokenPair) any {
		return frame.LoadFrame(sess, e.mode, after, t)
	}})
}

func (e *Engine) handleFrame(ctx context.Context, raw []byte) {
	f, err := frame.Decode(raw)
	if err != nil {
		e.metrics.RecordMalformed()
		e.logger.Warn("dropping malformed frame", "error", err, "size", len(raw))
		return
	}
	ev := frame.Classify(f)
	e.metrics.RecordFrame(ev.Kind.String())
	e.logger.Debug("frame", "kind", ev.Kind.String(), "type", ev.Type, "session_id", e.state.Session.SessionID)

	e.apply(ctx, reconciler.Inbound{Event: ev})

	if ev.Kind == frame.ConnectionEstablished {
		e.onConnected(ctx)
	}
}

func (e *Engine) onConnected(ctx context.Context) {
	e.enqueue(outbound{build: configFrame(frame.SubactionLoadConversationList)})
	if e.state.Connections > 1 {
		e.metrics.RecordReconnect()
		if e.state.Streaming() {
			// A reload now would replace the unpersisted prompt and reply.
			e.reloadPending = true
			e.logger.Info("reconnected during generation, deferring reload", "session_id", e.state.Session.SessionID)
			return
		}
		e.logger.Info("reconnected, reloading session", "session_id", e.state.Session.SessionID)
		e.loadSession(ctx, e.state.Session.SessionID)
		return
	}
	// The initial history request may have been issued before the socket was up.
	if !e.loadSent {
		e.requestHistory()
	}
}

// apply steps the reconciler with in and any follow-up inputs, performs the
// effects, and publishes a snapshot.
func (e *Engine) apply(ctx context.Context, in reconciler.Input) []reconciler.Effect {
	effects := e.step(ctx, in)
	for len(e.followUps) > 0 {
		up := e.followUps[0]
		e.followUps = e.followUps[1:]
		e.step(ctx, up)
	}
	e.publish()
	e.resumeReload(ctx)
	return effects
}

func (e *Engine) step(ctx context.Context, in reconciler.Input) []reconciler.Effect {
	wasLoading := e.state.Loading != nil
	next, effects := e.rec.Step(e.state, in)
	e.state = next
	for _, eff := range effects {
		e.perform(ctx, eff)
	}
	if wasLoading && e.state.Loading == nil && !e.loadStart.IsZero() {
		e.metrics.RecordTiming(metrics.OpHistoryLoad, e.now().Sub(e.loadStart))
		e.loadStart = time.Time{}
	}
	return effects
}

// resumeReload runs a deferred reconnect reload once the generation has
// finalized. An errored reply keeps its retry until the next one succeeds.
func (e *Engine) resumeReload(ctx context.Context) {
	if !e.reloadPending || e.state.Streaming() {
		return
	}
	if n := len(e.state.Transcript); n > 0 && e.state.Transcript[n-1].HasError() {
		return
	}
	e.logger.Info("generation ended, reloading session", "session_id", e.state.Session.SessionID)
	e.loadSession(ctx, e.state.Session.SessionID)
}

func (e *Engine) perform(ctx context.Context, eff reconciler.Effect) {
	switch eff := eff.(type) {
	case reconciler.SaveTranscript:
		start := e.now()
		if err := e.store.SaveTranscript(ctx, eff.SessionID, eff.Messages); err != nil {
			e.logger.Error("persist transcript", "session_id", eff.SessionID, "error", err)
			return
		}
		e.metrics.RecordTiming(metrics.OpStoreWrite, e.now().Sub(start))
	case reconciler.SaveTokenIdentifier:
		if err := e.store.SetLastTokenIdentifier(ctx, eff.ID); err != nil {
			e.logger.Error("persist token identifier", "error", err)
		}
	case reconciler.AddTokens:
		totals, err := e.ledger.AddTokens(ctx, eff.Date, eff.Input, eff.Output)
		if err != nil {
			e.logger.Error("update token ledger", "date", eff.Date, "error", err)
			return
		}
		if eff.Date == ledger.DateKey(e.now()) {
			e.totals = totals
		}
	case reconciler.SaveConversationList:
		if err := e.store.SetConversationList(ctx, eff.Raw); err != nil {
			e.logger.Error("persist conversation list", "error", err)
		}
	case reconciler.RefreshConversationList:
		e.enqueue(outbound{build: configFrame(frame.SubactionLoadConversationList)})
	case reconciler.InvalidateAuth:
		e.auth.Invalidate()
	case reconciler.SendChat:
		e.genStart = e.now()
		sess, msg, attachments := e.state.Session, eff.Message, eff.Attachments
		e.enqueue(outbound{
			chat: true,
			build: func(t auth.TokenPair) any {
				return frame.ChatFrame(sess, e.mode, msg, attachments, t)
			},
		})
	case reconciler.Notice:
		e.notice = eff.Text
	case reconciler.Finalized:
		e.metrics.RecordGeneration(e.now().Sub(e.genStart), int64(eff.Input), int64(eff.Output))
	case reconciler.Ignored:
		e.ignored(eff)
	}
}

func (e *Engine) ignored(ig reconciler.Ignored) {
	switch ig.Reason {
	case reconciler.ReasonDuplicate:
		e.metrics.RecordDuplicate()
		e.logger.Debug("dropping duplicate finalize", "session_id", e.state.Session.SessionID)
	case reconciler.ReasonUnrecognized:
		if _, seen := e.unknown[ig.Type]; !seen {
			e.unknown[ig.Type] = struct{}{}
			e.logger.Info("ignoring unrecognized frame type", "type", ig.Type)
		}
	default:
		e.logger.Debug("input ignored", "reason", ig.Reason, "type", ig.Type)
	}
}

func (e *Engine) publish() {
	s := e.state
	snap := &Snapshot{
		Session:       s.Session,
		Streaming:     s.Streaming(),
		Loading:       s.Loading != nil,
		Transcript:    models.CloneTranscript(s.Transcript),
		Conversations: s.Conversations,
		Totals:        e.totals,
		Notice:        e.notice,
		ConnectionID:  s.ConnectionID,
	}
	e.notice = ""
	e.snap.Store(snap)
	e.renderer.Render(*snap)
}
