package populate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/springfiles/edgecache/internal/httperr"
	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/queue"
	"github.com/springfiles/edgecache/internal/queue/push"
)

// Routes mounts the push-delivery endpoints. A 200 acks the delivery; any
// other status makes the queue redeliver with backoff.
func Routes(r chi.Router, logger *slog.Logger, p *Populator) {
	r.Post("/cache", handleCache(logger, p))
	r.Post("/upload", handleUpload(logger, p))
}

func handleCache(logger *slog.Logger, p *Populator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := push.Decode(r.Body)
		if err != nil {
			httperr.Write(w, err)
			return
		}
		if err := env.Message.RequireAttr(queue.RequestTypeAttr, queue.RequestTypeValue); err != nil {
			httperr.Write(w, err)
			return
		}

		var req model.SyncRequest
		if err := env.Message.DecodeData(&req); err != nil {
			httperr.Write(w, err)
			return
		}
		if err := req.Validate(); err != nil {
			httperr.Write(w, httperr.BadRequest("invalid sync request: %v", err))
			return
		}

		logger.InfoContext(r.Context(), "sync request delivered",
			"category", req.Category, "springname", req.Springname, "message_id", env.Message.MessageID)

		if err := p.Populate(r.Context(), req); err != nil {
			logger.ErrorContext(r.Context(), "populate failed", "springname", req.Springname, "err", err)
			httperr.Write(w, err)
			return
		}
		ok(w)
	}
}

func handleUpload(logger *slog.Logger, p *Populator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := push.Decode(r.Body)
		if err != nil {
			httperr.Write(w, err)
			return
		}
		if err := env.Message.RequireAttr("eventType", "OBJECT_FINALIZE"); err != nil {
			httperr.Write(w, err)
			return
		}
		if err := env.Message.RequireAttr("payloadFormat", "JSON_API_V1"); err != nil {
			httperr.Write(w, err)
			return
		}

		var obj push.ObjectNotification
		if err := env.Message.DecodeData(&obj); err != nil {
			httperr.Write(w, err)
			return
		}
		if obj.Bucket == "" || obj.Name == "" {
			httperr.Write(w, httperr.BadRequest("notification missing bucket or object name"))
			return
		}

		if err := p.PopulateUpload(r.Context(), obj); err != nil {
			logger.ErrorContext(r.Context(), "upload populate failed", "object", obj.Name, "err", err)
			httperr.Write(w, err)
			return
		}
		ok(w)
	}
}

// HandleSync adapts the populator for queue consumers, applying the retry
// policy: contract violations and permanent lookup failures are logged and
// acked (retrying cannot fix them), everything else fails the delivery so
// the queue redelivers.
func HandleSync(logger *slog.Logger, p *Populator) func(ctx context.Context, req model.SyncRequest) error {
	return func(ctx context.Context, req model.SyncRequest) error {
		err := p.Populate(ctx, req)
		if err == nil {
			return nil
		}
		switch httperr.StatusOf(err) {
		case http.StatusBadRequest, http.StatusNotFound:
			observability.IncPopulateRun(observability.PopulateDropped)
			logger.Error("dropping non-retryable sync request",
				"category", req.Category, "springname", req.Springname, "err", err)
			return nil
		default:
			return err
		}
	}
}

func ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
