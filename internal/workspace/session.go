package workspace

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/internal/stream"
	"sitegen/pkg/logger"

	"github.com/sirupsen/logrus"
)

const readBufferSize = 4096

// SessionHooks receive a session's publications. They are always invoked
// without the session's lock held, from the session's read goroutine or from
// the goroutine calling Cancel.
type SessionHooks struct {
	// OnCandidate is called after every chunk with the running document.
	OnCandidate func(seq uint64, candidate model.Document)
	// OnTerminal is called exactly once, when the attempt reaches a terminal state.
	OnTerminal func(seq uint64, state State, candidate model.Document, err error)
}

type SessionOption func(*GenerationSession)

// WithTimeout bounds the whole attempt. Hitting it cancels the attempt.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *GenerationSession) {
		s.timeout = d
	}
}

// GenerationSession drives exactly one streaming build attempt.
type GenerationSession struct {
	seq     uint64
	backend Backend
	hooks   SessionHooks
	timeout time.Duration

	mu      sync.Mutex
	state   State
	err     error
	buf     strings.Builder
	tokens  *int
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

func NewGenerationSession(seq uint64, backend Backend, hooks SessionHooks, opts ...SessionOption) *GenerationSession {
	s := &GenerationSession{
		seq:     seq,
		backend: backend,
		hooks:   hooks,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates req and, if it is acceptable, begins the attempt in the
// background. An invalid request fails here without touching the network.
func (s *GenerationSession) Start(ctx context.Context, req model.BuildRequest) (*AttemptHandle, error) {
	req, err := req.Normalize()
	if err != nil {
		metrics.Rejections.WithLabelValues("invalid_request").Inc()
		return nil, invalid("%v", err)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, invalid("attempt %d was already started", s.seq)
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.state = StateRequesting
	s.cancel = cancel
	s.started = time.Now()
	s.mu.Unlock()

	s.log().WithFields(logrus.Fields{"style": req.Style, "language": req.Language}).Info("generation attempt started")

	go s.run(runCtx, req)

	return &AttemptHandle{session: s}, nil
}

// Cancel moves a non-terminal attempt to Cancelled and aborts its transport
// read. Nothing the attempt receives afterwards is applied.
func (s *GenerationSession) Cancel() {
	s.finish(StateCancelled, ErrCancelled, nil)
}

func (s *GenerationSession) Seq() uint64 {
	return s.seq
}

func (s *GenerationSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *GenerationSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Candidate returns the markup accumulated so far.
func (s *GenerationSession) Candidate() model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.NewDocument(s.buf.String(), s.tokens)
}

func (s *GenerationSession) run(ctx context.Context, req model.BuildRequest) {
	body, err := s.backend.OpenStream(ctx, req)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	defer body.Close()

	if !s.transition(StateRequesting, StateStreaming) {
		return
	}

	dec := stream.NewDecoder()
	defer dec.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(string(buf[:n])) {
				if stop := s.apply(ev); stop {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) && ctx.Err() == nil {
				s.finish(StateErrored, ErrStreamTruncated, nil)
				return
			}
			s.fail(ctx, &TransportError{Cause: readErr})
			return
		}
	}
}

// apply processes one event and reports whether the read loop must stop.
func (s *GenerationSession) apply(ev stream.Event) bool {
	switch ev.Kind {
	case stream.EventMalformed:
		metrics.MalformedFrames.Inc()
		s.log().WithField("line", ev.RawLine).Debug("skipping malformed frame")
		return false

	case stream.EventChunk:
		s.mu.Lock()
		if s.state != StateStreaming {
			s.mu.Unlock()
			return true
		}
		s.buf.WriteString(ev.Text)
		candidate := model.NewDocument(s.buf.String(), nil)
		s.mu.Unlock()

		metrics.ChunkBytes.Add(float64(len(ev.Text)))
		if s.hooks.OnCandidate != nil {
			s.hooks.OnCandidate(s.seq, candidate)
		}
		return false

	case stream.EventDone:
		s.finish(StateCompleted, nil, ev.TokensUsed)
		return true
	}
	return false
}

func (s *GenerationSession) fail(ctx context.Context, err error) {
	err = classify(ctx, err)
	if errors.Is(err, ErrCancelled) {
		s.finish(StateCancelled, err, nil)
		return
	}
	s.finish(StateErrored, err, nil)
}

func (s *GenerationSession) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// finish performs the single terminal transition. Later calls are no-ops.
func (s *GenerationSession) finish(state State, err error, tokens *int) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	wasStarted := s.state != StateIdle
	s.state = state
	s.err = err
	if tokens != nil {
		s.tokens = tokens
	}
	candidate := model.NewDocument(s.buf.String(), s.tokens)
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	metrics.Attempts.WithLabelValues("generate", state.String()).Inc()
	entry := s.log().WithFields(logrus.Fields{"state": state, "bytes": candidate.SizeBytes})
	if wasStarted {
		elapsed := time.Since(started)
		metrics.AttemptDuration.WithLabelValues("generate").Observe(elapsed.Seconds())
		entry = entry.WithField("elapsed", elapsed.Round(time.Millisecond))
	}
	if err != nil && state == StateErrored {
		entry.WithError(err).Warn("generation attempt failed")
	} else {
		entry.Info("generation attempt finished")
	}

	if s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal(s.seq, state, candidate, err)
	}
	close(s.done)
	return true
}

func (s *GenerationSession) log() *logrus.Entry {
	return logger.WithFields(logrus.Fields{"seq": s.seq, "kind": "generate"})
}

// AttemptHandle is the caller's view of a started attempt.
type AttemptHandle struct {
	session *GenerationSession
}

func (h *AttemptHandle) Seq() uint64 { return h.session.Seq() }

func (h *AttemptHandle) State() State { return h.session.State() }

func (h *AttemptHandle) Err() error { return h.session.Err() }

func (h *AttemptHandle) Candidate() model.Document { return h.session.Candidate() }

func (h *AttemptHandle) Cancel() { h.session.Cancel() }

// Done is closed once the attempt is terminal and its terminal notification
// has been delivered.
func (h *AttemptHandle) Done() <-chan struct{} { return h.session.done }

// Wait blocks until the attempt is terminal or ctx ends. Giving up on ctx does
// not cancel the attempt.
func (h *AttemptHandle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.session.done:
		return h.State(), h.Err()
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}
