package workspace

import (
	"context"
	"strings"
	"sync"
	"time"

	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/pkg/logger"

	"github.com/sirupsen/logrus"
)

// Snapshot is a consistent view of the workspace at one instant.
type Snapshot struct {
	Seq           uint64          `json:"seq"`
	Active        ActiveKind      `json:"active"`
	LastKind      string          `json:"last_kind,omitempty"`
	State         State           `json:"state"`
	Document      model.Document  `json:"document"`
	Preview       *model.Document `json:"preview,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	LastErrorKind string          `json:"last_error_kind,omitempty"`
}

type Option func(*Supervisor)

// WithAttemptTimeout bounds every generation and refine attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(sv *Supervisor) {
		sv.attemptTimeout = d
	}
}

// Supervisor owns the committed document and admits at most one generation or
// refine at a time. Candidates from an attempt reach the document only if the
// attempt is still the current one when it completes.
type Supervisor struct {
	backend        Backend
	refiner        *RefineCoordinator
	attemptTimeout time.Duration

	mu        sync.Mutex
	seq       uint64
	document  model.Document
	active    ActiveKind
	session   *GenerationSession
	preview   *model.Document
	lastKind  string
	lastState State
	lastErr   error
	subs      map[int]chan Snapshot
	nextSub   int
}

func NewSupervisor(backend Backend, opts ...Option) *Supervisor {
	sv := &Supervisor{
		backend: backend,
		refiner: NewRefineCoordinator(backend),
		subs:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// StartGeneration begins a streaming build. It fails with ErrBusy while any
// attempt is active and with ErrInvalidRequest for an unusable request.
func (sv *Supervisor) StartGeneration(ctx context.Context, req model.BuildRequest) (*AttemptHandle, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.active != ActiveNone {
		metrics.Rejections.WithLabelValues("busy").Inc()
		return nil, ErrBusy
	}
	if _, err := req.Normalize(); err != nil {
		metrics.Rejections.WithLabelValues("invalid_request").Inc()
		return nil, invalid("%v", err)
	}

	sv.seq++
	session := NewGenerationSession(sv.seq, sv.backend, SessionHooks{
		OnCandidate: sv.onCandidate,
		OnTerminal:  sv.onTerminal,
	}, WithTimeout(sv.attemptTimeout))

	// Hooks need sv.mu, so none of them can run before this returns.
	sv.active = ActiveGenerating
	sv.session = session
	sv.preview = nil
	sv.lastKind = "generate"
	sv.lastState = StateRequesting
	sv.lastErr = nil

	handle, err := session.Start(ctx, req)
	if err != nil {
		sv.active = ActiveNone
		sv.session = nil
		sv.lastState = StateErrored
		sv.lastErr = err
		sv.broadcastLocked()
		return nil, err
	}
	sv.broadcastLocked()
	return handle, nil
}

// StartRefine edits the committed document and blocks until the backend
// answers. On success the result becomes the document.
func (sv *Supervisor) StartRefine(ctx context.Context, instructions string) (model.Document, error) {
	sv.mu.Lock()
	if sv.active != ActiveNone {
		sv.mu.Unlock()
		metrics.Rejections.WithLabelValues("busy").Inc()
		return model.Document{}, ErrBusy
	}
	if sv.document.Empty() {
		sv.mu.Unlock()
		metrics.Rejections.WithLabelValues("no_document").Inc()
		return model.Document{}, ErrNoDocument
	}
	if strings.TrimSpace(instructions) == "" {
		sv.mu.Unlock()
		metrics.Rejections.WithLabelValues("invalid_request").Inc()
		return model.Document{}, invalid("instructions are empty")
	}
	sv.seq++
	seq := sv.seq
	current := sv.document
	sv.active = ActiveRefining
	sv.preview = nil
	sv.lastKind = "refine"
	sv.lastState = StateRequesting
	sv.lastErr = nil
	sv.broadcastLocked()
	sv.mu.Unlock()

	if sv.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sv.attemptTimeout)
		defer cancel()
	}

	doc, err := sv.refiner.Refine(ctx, current, instructions)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if seq != sv.seq || sv.active != ActiveRefining {
		metrics.StaleWrites.Inc()
		return model.Document{}, ErrCancelled
	}
	sv.active = ActiveNone
	if err != nil {
		sv.lastState = StateErrored
		sv.lastErr = err
	} else {
		sv.document = doc
		sv.lastState = StateCompleted
	}
	sv.broadcastLocked()
	return doc, err
}

// CancelActive aborts the in-flight generation, if any, and reports whether
// there was one. Refines cannot be cancelled and are left running.
func (sv *Supervisor) CancelActive() bool {
	sv.mu.Lock()
	if sv.active != ActiveGenerating {
		sv.mu.Unlock()
		return false
	}
	session := sv.session
	sv.active = ActiveNone
	sv.session = nil
	sv.preview = nil
	sv.lastState = StateCancelled
	sv.lastErr = ErrCancelled
	sv.broadcastLocked()
	sv.mu.Unlock()

	logger.WithFields(logrus.Fields{"seq": session.Seq()}).Info("cancelling active generation")
	session.Cancel()
	return true
}

func (sv *Supervisor) Document() model.Document {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.document
}

func (sv *Supervisor) Snapshot() Snapshot {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot after every change.
// A slow reader only ever sees the most recent snapshot. The returned func
// unsubscribes and closes the channel.
func (sv *Supervisor) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	sv.mu.Lock()
	id := sv.nextSub
	sv.nextSub++
	sv.subs[id] = ch
	ch <- sv.snapshotLocked()
	sv.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sv.mu.Lock()
			delete(sv.subs, id)
			sv.mu.Unlock()
			close(ch)
		})
	}
}

func (sv *Supervisor) onCandidate(seq uint64, candidate model.Document) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if seq != sv.seq || sv.active != ActiveGenerating {
		metrics.StaleWrites.Inc()
		return
	}
	sv.preview = &candidate
	sv.lastState = StateStreaming
	sv.broadcastLocked()
}

func (sv *Supervisor) onTerminal(seq uint64, state State, candidate model.Document, err error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if seq != sv.seq || sv.active != ActiveGenerating {
		if state == StateCompleted {
			metrics.StaleWrites.Inc()
		}
		return
	}
	if state == StateCompleted {
		sv.document = candidate
	}
	sv.active = ActiveNone
	sv.session = nil
	sv.preview = nil
	sv.lastState = state
	sv.lastErr = err
	sv.broadcastLocked()
}

func (sv *Supervisor) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:      sv.seq,
		Active:   sv.active,
		LastKind: sv.lastKind,
		State:    sv.lastState,
		Document: sv.document,
	}
	if sv.preview != nil {
		preview := *sv.preview
		snap.Preview = &preview
	}
	if sv.lastErr != nil {
		snap.LastError = sv.lastErr.Error()
		snap.LastErrorKind = ErrorKind(sv.lastErr)
	}
	return snap
}

func (sv *Supervisor) broadcastLocked() {
	if len(sv.subs) == 0 {
		return
	}
	snap := sv.snapshotLocked()
	for _, ch := range sv.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
