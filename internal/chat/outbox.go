package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/chatsync/internal/auth"
	"github.com/raphaelgruber/chatsync/internal/reconciler"
	"github.com/raphaelgruber/chatsync/internal/transport"
)

// outbound is a frame waiting for credentials and delivery.
// build is called with a freshly fetched token pair.
type outbound struct {
	// gen is the session generation the frame was issued under.
	gen   uint64
	chat  bool
	load  bool
	build func(auth.TokenPair) any
}

// enqueue hands o to the sender goroutine without blocking the loop.
func (e *Engine) enqueue(o outbound) {
	o.gen = e.generation
	select {
	case e.outbox <- o:
	default:
		e.logger.Error("outbound queue full, dropping frame", "session_id", e.state.Session.SessionID)
		if o.chat {
			e.followUps = append(e.followUps, reconciler.SendFailed{Reason: "Too many pending requests. Retry in a moment."})
		}
	}
}

// sendLoop delivers outbound frames one at a time in enqueue order.
func (e *Engine) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case o := <-e.outbox:
			e.deliver(ctx, o)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, o outbound) {
	tokens, err := e.auth.Tokens(ctx)
	if err != nil {
		e.failed(o, fmt.Errorf("fetch credentials: %w", err))
		return
	}
	v := o.build(tokens)

	err = e.transport.Send(ctx, v)
	if err == nil {
		if o.load {
			e.post(func(context.Context) {
				if o.gen == e.generation {
					e.loadSent = true
				}
			})
		}
		return
	}

	if errors.Is(err, transport.ErrNotConnected) && e.fallback != nil {
		frames, ferr := e.fallback.Post(ctx, v)
		if ferr == nil {
			e.post(func(loopCtx context.Context) {
				if o.gen != e.generation {
					e.logger.Debug("dropping stale fallback response", "frames", len(frames))
					return
				}
				if o.load {
					e.loadSent = true
				}
				for _, raw := range frames {
					e.handleFrame(loopCtx, raw)
				}
			})
			return
		}
		err = fmt.Errorf("rest fallback: %w", ferr)
	}
	e.failed(o, err)
}

// failed reports a delivery failure; a failed chat frame finalizes the
// pending placeholder with an error so the user can retry.
func (e *Engine) failed(o outbound, err error) {
	e.logger.Warn("outbound frame not delivered", "error", err)
	if !o.chat {
		return
	}
	reason := err.Error()
	if errors.Is(err, transport.ErrNotConnected) {
		reason = "Not connected to the chat service. Retry once the connection is back."
	}
	if errors.Is(err, auth.ErrNoTokens) {
		reason = "No credentials available. Sign in and retry."
	}
	e.post(func(loopCtx context.Context) {
		if o.gen != e.generation || !e.state.Streaming() {
			return
		}
		e.apply(loopCtx, reconciler.SendFailed{Reason: reason})
	})
}
