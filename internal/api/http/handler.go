// internal/api/http/handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/metrics"
)

// Coordinator is the part of the dispatcher the API drives.
type Coordinator interface {
	Stats(ctx context.Context) (master.Status, error)
	SetLimit(ctx context.Context, class domain.WorkerClass, limit int) (int, error)
	Init(sink string)
}

// FrameSource serves the rendered images.
type FrameSource interface {
	Frame(taskID uint32) ([]byte, bool)
	FrameIDs() []uint32
	Complete() (uint32, bool)
}

// Handler serves frames, pool state and limit updates over HTTP.
type Handler struct {
	coord    Coordinator
	frames   FrameSource
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewHandler creates a handler. frames may be nil when no image is kept in memory.
func NewHandler(coord Coordinator, frames FrameSource, logger *slog.Logger) *Handler {
	return &Handler{
		coord:    coord,
		frames:   frames,
		logger:   logger.With("component", "http-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("distributed-fractal-api"),
	}
}

type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /frames", h.instrument(h.handleListFrames))
	mux.Handle("GET /frames/{id}", h.instrument(h.handleGetFrame))
	mux.Handle("GET /pool", h.instrument(h.handleGetPool))
	mux.Handle("PUT /pool/limits", h.instrument(h.handleSetLimit))
	mux.Handle("POST /init", h.instrument(h.handleInit))
	mux.Handle("GET /status", h.instrument(h.handleStatus))
}

func (h *Handler) instrument(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(r.Pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

func (h *Handler) handleListFrames(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		http.Error(w, "frames are not kept in this mode", http.StatusNotFound)
		return
	}
	total, complete := h.frames.Complete()
	writeJSON(w, http.StatusOK, FramesResponse{
		IDs:      h.frames.FrameIDs(),
		Total:    total,
		Complete: complete,
	})
}

func (h *Handler) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		http.Error(w, "frames are not kept in this mode", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "frame id must be an unsigned integer", http.StatusBadRequest)
		return
	}
	b, ok := h.frames.Frame(uint32(id))
	if !ok {
		http.Error(w, "frame not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Write(b)
}

func (h *Handler) handleGetPool(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetPool")
	defer span.End()

	status, err := h.coord.Stats(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to read pool state")
		h.coordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SetLimit")
	defer span.End()

	var req domain.LimitUpdate
	if !h.decode(w, r, span, &req) {
		return
	}
	class, err := domain.ParseWorkerClass(req.Class)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("worker.class", class.String()), attribute.Int("limit.requested", req.Limit))

	applied, err := h.coord.SetLimit(ctx, class, req.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to apply limit")
		h.coordinatorError(w, err)
		return
	}
	h.logger.Info("limit updated over http", "class", class, "requested", req.Limit, "applied", applied)
	writeJSON(w, http.StatusOK, LimitResponse{Class: class.String(), Limit: applied})
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "handler.Init")
	defer span.End()

	var req InitRequest
	if !h.decode(w, r, span, &req) {
		return
	}
	h.coord.Init(req.Sink)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, collectStatus(r.Context()))
}

// decode reads and validates a JSON body; on failure the response is written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, span trace.Span, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": details,
		})
		return false
	}
	return true
}

func (h *Handler) coordinatorError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrStopped) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.logger.Error("coordinator request failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
