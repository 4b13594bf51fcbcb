package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/messagebus"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
	domalloc "github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	etaLayout            = time.DateOnly
)

// Handler is the HTTP entry point: it turns requests into commands for the bus
// and answers allocation queries from the read model.
type Handler struct {
	bus    *messagebus.Bus
	newUoW func() *unitofwork.UnitOfWork
	views  views.Store
	log    observability.Logger
	tel    observability.Observability
}

func NewHandler(bus *messagebus.Bus, newUoW func() *unitofwork.UnitOfWork, viewStore views.Store, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		bus:    bus,
		newUoW: newUoW,
		views:  viewStore,
		log:    tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:    tel,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.route(r, http.MethodPost, "/batches", h.handleAddBatch)
	h.route(r, http.MethodPost, "/allocate", h.handleAllocate)
	h.route(r, http.MethodGet, "/allocations/{orderid}", h.handleAllocations)
	h.route(r, http.MethodGet, "/health", h.handleHealth)
	return r
}

// route wraps a handler as Trace → request logger + metrics → access log → handler.
func (h *Handler) route(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	template := method + " " + pattern
	mw := ObservabilityMiddleware(h.log, func(r *http.Request) string {
		return r.Header.Get(headerRequestID)
	}, h.tel)
	wrapped := h.withTrace(mw(h.withAccessLog(handler)))

	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), template)))
	}))
}

type addBatchRequest struct {
	Ref string  `json:"ref"`
	SKU string  `json:"sku"`
	Qty int     `json:"qty"`
	ETA *string `json:"eta"`
}

type addBatchResponse struct {
	BatchRef string `json:"batchref"`
}

func (h *Handler) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req addBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd := domalloc.CreateBatch{Ref: req.Ref, SKU: req.SKU, Qty: req.Qty}
	if req.ETA != nil && *req.ETA != "" {
		eta, err := time.Parse(etaLayout, *req.ETA)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("eta: %w", err))
			return
		}
		cmd.ETA = &eta
	}

	res, err := h.bus.Handle(r.Context(), h.newUoW(), cmd)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	ref, _ := res.(string)
	writeJSON(w, http.StatusCreated, addBatchResponse{BatchRef: ref})
}

type allocateRequest struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

type allocateResponse struct {
	BatchRef   string `json:"batchref,omitempty"`
	OutOfStock bool   `json:"out_of_stock,omitempty"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.bus.Handle(r.Context(), h.newUoW(), domalloc.Allocate{OrderID: req.OrderID, SKU: req.SKU, Qty: req.Qty})
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	ref, _ := res.(string)
	writeJSON(w, http.StatusAccepted, allocateResponse{BatchRef: ref, OutOfStock: ref == ""})
}

func (h *Handler) handleAllocations(w http.ResponseWriter, r *http.Request) {
	rows, err := views.Allocations(r.Context(), h.views, chi.URLParam(r, "orderid"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log line after the handler completes.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop-allocation.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}

		ctx, span := tracer.Start(parentCtx, route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domalloc.ErrInvalidSku),
		errors.Is(err, domalloc.ErrInvalidQuantity),
		errors.Is(err, domalloc.ErrInvalidArgument),
		errors.Is(err, views.ErrEmptyOrderID):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domalloc.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domalloc.ErrConcurrentModification),
		errors.Is(err, domalloc.ErrDuplicateBatch):
		writeError(w, http.StatusConflict, err)
	default:
		logctx.FromOr(ctx, h.log).Error("http_internal_error", observability.F("error", err))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

type routeKey struct{}

// contextWithRoute stores the route template so metrics and logs keep
// low-cardinality labels.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
