package reconciler

import (
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/chatsync/internal/frame"
	"github.com/raphaelgruber/chatsync/internal/history"
	"github.com/raphaelgruber/chatsync/internal/ledger"
	"github.com/raphaelgruber/chatsync/internal/models"
)

// Reconciler applies inputs to a State. The clock and the random identifier
// source are its only dependencies.
type Reconciler struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDSource overrides the random token identifier source used for
// finalize frames without metrics.
func WithIDSource(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

// New returns a Reconciler using the wall clock and random UUIDs.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Step applies in to s.
func (r *Reconciler) Step(s State, in Input) (State, []Effect) {
	switch in := in.(type) {
	case Inbound:
		return r.applyEvent(s, in.Event)
	case UserSend:
		return r.send(s, in)
	case Retry:
		return r.retry(s)
	case Discard:
		return discard(s)
	case SendFailed:
		if !s.Streaming() {
			return s, []Effect{Ignored{Reason: ReasonNotStreaming}}
		}
		return r.fail(s, in.Reason)
	case BeginLoad:
		return beginLoad(s, in)
	default:
		return s, nil
	}
}

func (r *Reconciler) applyEvent(s State, ev frame.Event) (State, []Effect) {
	switch ev.Kind {
	case frame.MessageStart:
		return r.start(s, ev)
	case frame.ContentDelta:
		return r.delta(s, ev)
	case frame.MessageStop:
		return r.stop(s, ev)
	case frame.Error:
		return r.errorEvent(s, ev)
	case frame.ImageGenerated, frame.VideoGenerated:
		return r.media(s, ev)
	case frame.ConversationHistoryChunk:
		return r.historyChunk(s, ev)
	case frame.ConversationListLoaded:
		s.Conversations = ev.List.Summaries
		return s, []Effect{SaveConversationList{Raw: ev.List.Raw}}
	case frame.ConfigLoadResponse:
		s.Config = ev.Config
		return s, nil
	case frame.ModelScanComplete:
		if ev.Config != nil && ev.Config.Models != nil {
			s.Config = ev.Config
		}
		return s, []Effect{Notice{Text: "Model scan complete."}}
	case frame.ConnectionEstablished:
		s.ConnectionID = ev.ConnectionID
		s.Connections++
		return s, nil
	case frame.NoConversationToLoad:
		s.Loading = nil
		return s, nil
	case frame.SessionExpired:
		return r.expired(s)
	default:
		return s, []Effect{Ignored{Reason: ReasonUnrecognized, Type: ev.Type}}
	}
}

func (r *Reconciler) start(s State, ev frame.Event) (State, []Effect) {
	s.Session = adoptKB(s.Session, ev.Start.KBSessionID)
	if !s.Streaming() {
		return s, []Effect{Ignored{Reason: ReasonNotStreaming, Type: ev.Type}}
	}
	s.Model = ev.Start.Model
	s = updateLast(s, func(m *models.Message) {
		m.Model = ev.Start.Model
		if ev.Start.MessageID != "" {
			m.MessageID = ev.Start.MessageID
		}
		m.RawEvent = ev.Raw
	})
	return s, nil
}

func (r *Reconciler) delta(s State, ev frame.Event) (State, []Effect) {
	if !s.Streaming() {
		return s, []Effect{Ignored{Reason: ReasonNotStreaming, Type: ev.Type}}
	}
	text := ev.Delta.Text
	if ev.Delta.StopReason == frame.StopReasonMaxTokens && !s.truncated {
		text += frame.MaxTokensNotice(outputTokens(ev.Delta.Metrics))
		s.truncated = true
	}
	s = updateLast(s, func(m *models.Message) {
		m.Content = m.Content.Append(text)
		m.RawEvent = ev.Raw
	})
	return s, nil
}

func (r *Reconciler) stop(s State, ev frame.Event) (State, []Effect) {
	stop := ev.Stop
	tokenID := r.newID()
	if stop.Metrics != nil {
		tokenID = stop.Metrics.TokenIdentifier()
	}
	if tokenID == s.LastTokenID {
		return s, []Effect{Ignored{Reason: ReasonDuplicate, Type: ev.Type}}
	}

	s.Session = adoptKB(s.Session, stop.KBSessionID)
	if !s.Streaming() {
		return s, []Effect{Ignored{Reason: ReasonNotStreaming, Type: ev.Type}}
	}

	var in, out int
	if stop.Metrics != nil {
		in, out = stop.Metrics.InputTokenCount, stop.Metrics.OutputTokenCount
	}
	now := r.now()
	notice := stop.StopReason == frame.StopReasonMaxTokens && !s.truncated
	model := s.Model

	s = updateLast(s, func(m *models.Message) {
		if notice {
			m.Content = m.Content.Append(frame.MaxTokensNotice(out))
		}
		m.IsStreaming = false
		m.Timestamp = models.StringPtr(frame.Timestamp(now))
		m.InputTokenCount = in
		m.OutputTokenCount = out
		if model != "" {
			m.Model = model
		}
		if stop.MessageID != "" {
			m.MessageID = stop.MessageID
		}
		m.RawEvent = ev.Raw
	})
	s.Phase = Idle
	s.truncated = false
	s.LastTokenID = tokenID

	effects := []Effect{
		SaveTokenIdentifier{ID: tokenID},
		AddTokens{Date: ledger.DateKey(now), Input: in, Output: out},
		SaveTranscript{SessionID: s.Session.SessionID, Messages: PersistableSnapshot(s.Transcript)},
		Finalized{Model: model, Input: in, Output: out},
	}
	if stop.NewConversation {
		effects = append(effects, RefreshConversationList{})
	}
	return s, effects
}

func (r *Reconciler) errorEvent(s State, ev frame.Event) (State, []Effect) {
	s.Loading = nil
	if s.Streaming() {
		next, effects := r.fail(s, ev.Err.Message)
		next = updateLast(next, func(m *models.Message) { m.RawEvent = ev.Raw })
		return next, effects
	}
	text := FriendlyError(ev.Err.Message)
	s.Transcript = append(models.CloneTranscript(s.Transcript), models.Message{
		Role:      models.RoleAssistant,
		Content:   models.NewTextContent(text),
		Timestamp: models.StringPtr(frame.Timestamp(r.now())),
		Error:     models.StringPtr(text),
		RawEvent:  ev.Raw,
	})
	return s, nil
}

// fail finalizes the streaming placeholder with an error marker.
func (r *Reconciler) fail(s State, reason string) (State, []Effect) {
	text := FriendlyError(reason)
	now := r.now()
	s = updateLast(s, func(m *models.Message) {
		if m.Content.String() == "" {
			m.Content = models.NewTextContent(text)
		}
		m.Error = models.StringPtr(text)
		m.IsStreaming = false
		m.Timestamp = models.StringPtr(frame.Timestamp(now))
	})
	s.Phase = Idle
	s.truncated = false
	return s, []Effect{SaveTranscript{SessionID: s.Session.SessionID, Messages: PersistableSnapshot(s.Transcript)}}
}

func (r *Reconciler) media(s State, ev frame.Event) (State, []Effect) {
	media := ev.Media
	ts := media.Timestamp
	if ts == "" {
		ts = frame.Timestamp(r.now())
	}
	apply := func(m *models.Message) {
		m.Content = models.NewMediaContent(media.Kind, media.URL)
		m.IsStreaming = false
		m.IsVideoStreaming = false
		// Media often lands after a gateway timeout bubble; it is the real answer.
		m.Error = nil
		m.Timestamp = models.StringPtr(ts)
		if media.MessageID != "" {
			m.MessageID = media.MessageID
		}
		if media.ModelID != "" {
			m.Model = media.ModelID
		}
		m.RawEvent = ev.Raw
	}

	n := len(s.Transcript)
	if n == 0 || s.Transcript[n-1].Role != models.RoleAssistant {
		m := models.Message{Role: models.RoleAssistant}
		apply(&m)
		s.Transcript = append(models.CloneTranscript(s.Transcript), m)
	} else {
		s = updateLast(s, apply)
	}
	s.Phase = Idle
	s.truncated = false
	return s, []Effect{SaveTranscript{SessionID: s.Session.SessionID, Messages: PersistableSnapshot(s.Transcript)}}
}

func (r *Reconciler) historyChunk(s State, ev frame.Event) (State, []Effect) {
	h := ev.History
	if h.SessionID != "" && h.SessionID != s.Session.SessionID {
		return s, []Effect{Ignored{Reason: ReasonStaleSession, Type: ev.Type}}
	}

	items := make([]models.Message, 0, len(h.Items))
	for _, item := range h.Items {
		m := item.Message
		if item.StopReason == frame.StopReasonMaxTokens {
			m.Content = m.Content.Append(frame.MaxTokensNotice(m.OutputTokenCount))
		}
		items = append(items, m)
	}

	incremental := s.Loading != nil && s.Loading.Strategy.Kind == history.LoadIncremental
	if h.CurrentChunk <= 1 {
		// The first chunk replaces whatever is displayed, including a placeholder.
		base := []models.Message(nil)
		if incremental {
			base = s.Loading.Cached
			// Cached messages after the anchor have no id; the backend's copies replace them.
			if len(items) > 0 {
				base = history.TrimAfter(base, s.Loading.Strategy.AfterMessageID)
			}
		}
		s.Transcript = merge(base, items, incremental)
		s.Phase = Idle
		s.truncated = false
	} else {
		s.Transcript = appendBeforePlaceholder(s, items, incremental)
	}

	if !h.LastMessage {
		return s, nil
	}
	s.Loading = nil
	return s, []Effect{SaveTranscript{SessionID: s.Session.SessionID, Messages: PersistableSnapshot(s.Transcript)}}
}

func merge(base, items []models.Message, dedup bool) []models.Message {
	if dedup {
		return history.MergeMissing(base, items)
	}
	return append(models.CloneTranscript(base), items...)
}

// appendBeforePlaceholder appends history items, keeping a streaming
// placeholder as the last message.
func appendBeforePlaceholder(s State, items []models.Message, dedup bool) []models.Message {
	if !s.Streaming() || len(s.Transcript) == 0 {
		return merge(s.Transcript, items, dedup)
	}
	n := len(s.Transcript)
	out := merge(s.Transcript[:n-1:n-1], items, dedup)
	return append(out, s.Transcript[n-1])
}

func (r *Reconciler) expired(s State) (State, []Effect) {
	effects := []Effect{InvalidateAuth{}, Notice{Text: "Session expired. Credentials will be refreshed on the next request."}}
	if s.Streaming() {
		next, more := r.fail(s, "Your session expired before the response completed.")
		return next, append(effects, more...)
	}
	return s, effects
}

func (r *Reconciler) send(s State, in UserSend) (State, []Effect) {
	if s.Streaming() {
		return s, []Effect{Ignored{Reason: ReasonBusy}}
	}
	cmd := in
	s.LastSend = &cmd
	s = appendExchange(s, in.Message)
	return s, []Effect{SendChat{Message: in.Message, Attachments: in.Attachments}}
}

func (r *Reconciler) retry(s State) (State, []Effect) {
	n := len(s.Transcript)
	if s.LastSend == nil || n == 0 {
		return s, []Effect{Ignored{Reason: ReasonNoRetry}}
	}
	last := s.Transcript[n-1]
	if last.Role != models.RoleAssistant || !(last.HasError() || last.IsStreaming) {
		return s, []Effect{Ignored{Reason: ReasonNoRetry}}
	}

	cut := n - 1
	if cut > 0 && s.Transcript[cut-1].Role == models.RoleHuman {
		cut--
	}
	s.Transcript = models.CloneTranscript(s.Transcript[:cut])
	s.Phase = Idle
	s = appendExchange(s, s.LastSend.Message)
	return s, []Effect{SendChat{Message: s.LastSend.Message, Attachments: s.LastSend.Attachments}}
}

// appendExchange appends a human message and an empty streaming placeholder.
func appendExchange(s State, human models.Message) State {
	human.Role = models.RoleHuman
	human.IsStreaming = false
	s.Transcript = append(models.CloneTranscript(s.Transcript), human, models.Message{
		Role:        models.RoleAssistant,
		Content:     models.NewTextContent(""),
		IsStreaming: true,
	})
	s.Phase = Streaming
	s.Model = ""
	s.truncated = false
	return s
}

func discard(s State) (State, []Effect) {
	if !s.Streaming() {
		return s, []Effect{Ignored{Reason: ReasonNotStreaming}}
	}
	n := len(s.Transcript)
	if n > 0 && s.Transcript[n-1].IsStreaming {
		s.Transcript = models.CloneTranscript(s.Transcript[:n-1])
	}
	s.Phase = Idle
	s.truncated = false
	return s, nil
}

func beginLoad(s State, in BeginLoad) (State, []Effect) {
	next := State{
		Session:       in.Session,
		LastTokenID:   s.LastTokenID,
		Conversations: s.Conversations,
		Config:        s.Config,
		ConnectionID:  s.ConnectionID,
		Connections:   s.Connections,
	}
	// The cache is shown until a full load's first chunk replaces it.
	next.Transcript = models.CloneTranscript(in.Cached)
	if in.Session.SessionID == s.Session.SessionID {
		next.LastSend = s.LastSend
	}
	if in.Strategy.NeedsFetch() {
		next.Loading = &Loading{Strategy: in.Strategy, Cached: models.CloneTranscript(in.Cached)}
	}
	return next, nil
}

// updateLast copies the transcript and applies fn to its final message.
func updateLast(s State, fn func(*models.Message)) State {
	n := len(s.Transcript)
	if n == 0 {
		return s
	}
	s.Transcript = models.CloneTranscript(s.Transcript)
	fn(&s.Transcript[n-1])
	return s
}

// adoptKB sets the knowledge-base session id; an empty id never clears it.
func adoptKB(sess models.Session, kbSessionID string) models.Session {
	if kbSessionID != "" {
		sess.KBSessionID = kbSessionID
	}
	return sess
}

func outputTokens(m *frame.InvocationMetrics) int {
	if m == nil {
		return 0
	}
	return m.OutputTokenCount
}
