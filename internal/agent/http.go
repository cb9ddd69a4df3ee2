package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rpn/internal/metrics"
	"rpn/internal/model"
	"rpn/internal/printer"
)

const maxBody = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PrintResponse struct {
	OrderNumber string `json:"order_number"`
	Outcome     string `json:"outcome"`
	Tallies     int    `json:"tallies"`
}

type PreviewResponse struct {
	Lines []string `json:"lines"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// NewRouter mounts the agent endpoints. m may be nil, which leaves /metrics out.
func NewRouter(h *Handler, m *metrics.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Post("/receipts", h.PrintReceipt)
	r.Post("/receipts/preview", h.PreviewReceipt)
	r.Get("/sales/{day}", h.SalesSummary)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

// HealthResponse reports liveness and whether a receipt is being printed.
type HealthResponse struct {
	Status      string `json:"status"`
	PrinterBusy bool   `json:"printer_busy"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", PrinterBusy: h.svc.PrinterBusy()})
}

func (h *Handler) decodeOrder(w http.ResponseWriter, r *http.Request) (model.Order, bool) {
	var o model.Order
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be an order JSON object")
		return model.Order{}, false
	}
	if o.OrderNumber == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "order_number is required")
		return model.Order{}, false
	}
	return o, true
}

// PrintReceipt prints the posted order. It answers 202 once the receipt is
// out and 502 when the printer could not be reached or written.
func (h *Handler) PrintReceipt(w http.ResponseWriter, r *http.Request) {
	o, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	if o.Status != model.StatusPaid {
		writeError(w, http.StatusUnprocessableEntity, "order_not_paid", "only paid orders are printed")
		return
	}
	res, err := h.svc.Reprint(r.Context(), o)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if res.Outcome == OutcomePrintFailed {
		writeError(w, http.StatusBadGateway, "print_failed", printer.UserMessage(res.PrintErr))
		return
	}
	writeJSON(w, http.StatusAccepted, PrintResponse{
		OrderNumber: o.OrderNumber,
		Outcome:     res.Outcome.String(),
		Tallies:     len(res.Applied),
	})
}

func (h *Handler) PreviewReceipt(w http.ResponseWriter, r *http.Request) {
	o, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{Lines: h.svc.Preview(o)})
}

func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD")
		return
	}
	sum, err := h.svc.Summary(day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
