package workspace

import (
	"context"
	"strings"
	"time"

	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/pkg/logger"

	"github.com/sirupsen/logrus"
)

// RefineCoordinator performs single-shot edits of a committed document.
type RefineCoordinator struct {
	backend Backend
}

func NewRefineCoordinator(backend Backend) *RefineCoordinator {
	return &RefineCoordinator{backend: backend}
}

// Refine asks the backend to apply instructions to current and returns the
// replacement document. It does not commit anything.
func (r *RefineCoordinator) Refine(ctx context.Context, current model.Document, instructions string) (model.Document, error) {
	if current.Empty() {
		metrics.Rejections.WithLabelValues("no_document").Inc()
		return model.Document{}, ErrNoDocument
	}
	if strings.TrimSpace(instructions) == "" {
		metrics.Rejections.WithLabelValues("invalid_request").Inc()
		return model.Document{}, invalid("instructions are empty")
	}

	log := logger.WithFields(logrus.Fields{"kind": "refine", "current_bytes": current.SizeBytes})
	start := time.Now()

	resp, err := r.backend.Refine(ctx, model.RefineRequest{
		CurrentHTML:  current.HTML,
		Instructions: instructions,
	})
	if err == nil && resp.HTML == "" {
		err = ErrEmptyDocument
	}
	elapsed := time.Since(start)
	metrics.AttemptDuration.WithLabelValues("refine").Observe(elapsed.Seconds())

	if err != nil {
		if err != ErrEmptyDocument {
			err = classify(ctx, err)
		}
		metrics.Attempts.WithLabelValues("refine", StateErrored.String()).Inc()
		log.WithError(err).WithField("error_kind", ErrorKind(err)).Warn("refine failed")
		return model.Document{}, err
	}

	doc := model.NewDocument(resp.HTML, resp.TokensUsed)
	metrics.Attempts.WithLabelValues("refine", StateCompleted.String()).Inc()
	log.WithFields(logrus.Fields{"bytes": doc.SizeBytes, "elapsed": elapsed.Round(time.Millisecond)}).Info("refine finished")
	return doc, nil
}
