package workspace

import (
	"context"
	"testing"
	"time"

	"sitegen/internal/metrics"
	"sitegen/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorGenerateThenRefine(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{
		Prompt: "meditation app landing page named ZenFlow",
		Style:  model.StyleMinimalist,
	})
	require.NoError(t, err)
	assert.Equal(t, ActiveGenerating, sv.Snapshot().Active)

	pw := fb.nextStream(t)
	send(t, pw, chunkFrame(t, "<!DOCTYPE html><html>"))
	require.Eventually(t, func() bool {
		snap := sv.Snapshot()
		return snap.Preview != nil && snap.Preview.HTML == "<!DOCTYPE html><html>"
	}, waitFor, 5*time.Millisecond)
	assert.True(t, sv.Document().Empty(), "preview must not be committed")

	send(t, pw, chunkFrame(t, "<body>ZenFlow</body></html>"))
	send(t, pw, doneFrame())

	state, err := waitDone(t, h)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	snap := sv.Snapshot()
	assert.Equal(t, ActiveNone, snap.Active)
	assert.Nil(t, snap.Preview)
	assert.Equal(t, "<!DOCTYPE html><html><body>ZenFlow</body></html>", snap.Document.HTML)

	fb.refineResp = &model.RefineResponse{HTML: "<!DOCTYPE html><html><body class=\"blue\">ZenFlow</body></html>"}
	doc, err := sv.StartRefine(context.Background(), "make the header blue")
	require.NoError(t, err)
	assert.Equal(t, doc, sv.Document())
	require.Len(t, fb.refineReqs, 1)
	assert.Equal(t, snap.Document.HTML, fb.refineReqs[0].CurrentHTML)
	assert.Equal(t, "make the header blue", fb.refineReqs[0].Instructions)
	assert.Equal(t, ActiveNone, sv.Snapshot().Active)
}

func TestSupervisorCancelKeepsDocument(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)

	pw := fb.nextStream(t)
	send(t, pw, chunkFrame(t, "<html>"))
	require.Eventually(t, func() bool {
		return sv.Snapshot().Preview != nil
	}, waitFor, 5*time.Millisecond)

	assert.True(t, sv.CancelActive())
	snap := sv.Snapshot()
	assert.Equal(t, ActiveNone, snap.Active)
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, "cancelled", snap.LastErrorKind)

	state, _ := waitDone(t, h)
	assert.Equal(t, StateCancelled, state)

	_, _ = pw.Write([]byte(chunkFrame(t, "<body>late</body>")))
	assert.True(t, sv.Document().Empty())
	assert.Nil(t, sv.Snapshot().Preview)

	assert.False(t, sv.CancelActive(), "nothing left to cancel")

	// The workspace is free again.
	h2, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "y"})
	require.NoError(t, err)
	assert.Greater(t, h2.Seq(), h.Seq())
	h2.Cancel()
	waitDone(t, h2)
}

func TestSupervisorBusy(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	fb.nextStream(t)

	_, err = sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "y"})
	assert.ErrorIs(t, err, ErrBusy)

	_, err = sv.StartRefine(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBusy)

	// Busy wins over validation.
	_, err = sv.StartGeneration(context.Background(), model.BuildRequest{})
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, 1, fb.openCount())
	sv.CancelActive()
	waitDone(t, h)
}

func TestSupervisorInvalidRequestLeavesState(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	_, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: ""})
	require.ErrorIs(t, err, ErrInvalidRequest)

	snap := sv.Snapshot()
	assert.Equal(t, uint64(0), snap.Seq)
	assert.Equal(t, ActiveNone, snap.Active)
	assert.Equal(t, 0, fb.openCount())
}

func TestSupervisorRefineWithoutDocument(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	_, err := sv.StartRefine(context.Background(), "make it blue")
	require.ErrorIs(t, err, ErrNoDocument)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, fb.refineReqs)
}

func TestSupervisorFailedAttemptsKeepDocument(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	pw := fb.nextStream(t)
	send(t, pw, chunkFrame(t, "<html>v1</html>"))
	send(t, pw, doneFrame())
	waitDone(t, h)
	require.Equal(t, "<html>v1</html>", sv.Document().HTML)

	// Truncated stream.
	h, err = sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	pw = fb.nextStream(t)
	send(t, pw, chunkFrame(t, "<html>v2"))
	require.NoError(t, pw.Close())
	state, err := waitDone(t, h)
	assert.Equal(t, StateErrored, state)
	assert.ErrorIs(t, err, ErrStreamTruncated)
	assert.Equal(t, "<html>v1</html>", sv.Document().HTML)
	assert.Equal(t, "stream_truncated", sv.Snapshot().LastErrorKind)

	// Refine failure.
	fb.refineErr = &HTTPStatusError{Code: 502, Body: "upstream"}
	_, err = sv.StartRefine(context.Background(), "change")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "<html>v1</html>", sv.Document().HTML)
	assert.Equal(t, ActiveNone, sv.Snapshot().Active)

	// Empty refine result.
	fb.refineErr = nil
	fb.refineResp = &model.RefineResponse{}
	_, err = sv.StartRefine(context.Background(), "change")
	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.Equal(t, "<html>v1</html>", sv.Document().HTML)
}

func TestSupervisorDiscardsStaleWrites(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	fb.nextStream(t)
	staleSeq := h.Seq()

	sv.CancelActive()
	waitDone(t, h)

	before := testutil.ToFloat64(metrics.StaleWrites)
	sv.onCandidate(staleSeq, model.NewDocument("<html>stale", nil))
	sv.onTerminal(staleSeq, StateCompleted, model.NewDocument("<html>stale</html>", nil), nil)

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.StaleWrites))
	assert.True(t, sv.Document().Empty())
	assert.Nil(t, sv.Snapshot().Preview)
}

func TestSupervisorSubscribe(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb)

	updates, unsubscribe := sv.Subscribe()
	defer unsubscribe()

	first := <-updates
	assert.Equal(t, ActiveNone, first.Active)

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	pw := fb.nextStream(t)
	send(t, pw, chunkFrame(t, "<html></html>"))
	send(t, pw, doneFrame())
	waitDone(t, h)

	deadline := time.After(waitFor)
	for {
		select {
		case snap := <-updates:
			if snap.State == StateCompleted {
				assert.Equal(t, "<html></html>", snap.Document.HTML)
				assert.Equal(t, ActiveNone, snap.Active)
				return
			}
		case <-deadline:
			t.Fatal("never observed the completed snapshot")
		}
	}
}

func TestSupervisorUnsubscribeClosesChannel(t *testing.T) {
	sv := NewSupervisor(newFakeBackend())
	updates, unsubscribe := sv.Subscribe()
	<-updates
	unsubscribe()
	unsubscribe()

	_, ok := <-updates
	assert.False(t, ok)
}

func TestSupervisorAttemptTimeout(t *testing.T) {
	fb := newFakeBackend()
	sv := NewSupervisor(fb, WithAttemptTimeout(30*time.Millisecond))

	h, err := sv.StartGeneration(context.Background(), model.BuildRequest{Prompt: "x"})
	require.NoError(t, err)
	fb.nextStream(t)

	state, err := waitDone(t, h)
	assert.Equal(t, StateCancelled, state)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ActiveNone, sv.Snapshot().Active)
	assert.True(t, sv.Document().Empty())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "busy", ErrorKind(ErrBusy))
	assert.Equal(t, "no_document", ErrorKind(ErrNoDocument))
	assert.Equal(t, "invalid_request", ErrorKind(invalid("bad %s", "style")))
	assert.Equal(t, "http_status", ErrorKind(&HTTPStatusError{Code: 404}))
	assert.Equal(t, "transport_failure", ErrorKind(&TransportError{Cause: context.DeadlineExceeded}))
	assert.Equal(t, "internal", ErrorKind(assert.AnError))
}
