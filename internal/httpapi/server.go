package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/fulfillment"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/scheduler"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/contracts"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Orders interface {
	CreateOrder(ctx context.Context, d order.Draft) (*order.Order, error)
	Get(ctx context.Context, orderID string) (*order.Order, error)
}

type PaymentIntake interface {
	Handle(ctx context.Context, evt contracts.PaymentReportedEvent) (*order.Order, bool, error)
}

type Notifications interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]notification.Record, int, error)
	MarkRead(ctx context.Context, recipientID, id string) error
}

type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error)
}

type Sweeper interface {
	Name() string
	RunOnce(ctx context.Context) (scheduler.RunReport, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Orders        Orders
	Progress      *fulfillment.Controller
	Payments      PaymentIntake
	Notifications Notifications
	Audit         AuditLog
	Sweepers      []Sweeper
	Health        Pinger
}

type Server struct {
	deps   Deps
	sweeps map[string]Sweeper
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		sweeps: make(map[string]Sweeper, len(deps.Sweepers)),
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, sw := range deps.Sweepers {
		s.sweeps[sw.Name()] = sw
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /orders", s.createOrder)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/preparation/start", s.startPreparation)
	s.mux.HandleFunc("POST /orders/{orderID}/preparation/complete", s.completePreparation)
	s.mux.HandleFunc("POST /orders/{orderID}/delay", s.delayOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/pickup", s.pickUp)
	s.mux.HandleFunc("POST /orders/{orderID}/cancel", s.cancelOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/payment/proof", s.attachProof)
	s.mux.HandleFunc("POST /orders/{orderID}/payment/status", s.setPaymentStatus)

	s.mux.HandleFunc("POST /payments/webhook", s.paymentWebhook)
	s.mux.HandleFunc("POST /sweeps/{task}", s.runSweep)

	s.mux.HandleFunc("GET /notifications", s.listNotifications)
	s.mux.HandleFunc("POST /notifications/{notificationID}/read", s.markRead)
	s.mux.HandleFunc("GET /audit-logs", s.queryAudit)

	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// HandleFunc mounts an extra route, such as the websocket endpoint.
func (s *Server) HandleFunc(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		SubtotalAmount int64      `json:"subtotal_amount"`
		ServiceFee     int64      `json:"service_fee"`
		PickupDate     *time.Time `json:"pickup_date"`
		Method         string     `json:"method"`
	}
	if !decode(w, r, &req) {
		return
	}

	o, err := s.deps.Orders.CreateOrder(r.Context(), order.Draft{
		UserID:         userID,
		SubtotalAmount: req.SubtotalAmount,
		ServiceFee:     req.ServiceFee,
		PickupDate:     req.PickupDate,
		Method:         req.Method,
	})
	if err != nil {
		s.fail(w, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Get(r.Context(), r.PathValue("orderID"))
	if err != nil {
		s.fail(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) startPreparation(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeResult(w, s.deps.Progress.MarkPreparationStarted(r.Context(), r.PathValue("orderID"), actor))
}

func (s *Server) completePreparation(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeResult(w, s.deps.Progress.MarkPreparationComplete(r.Context(), r.PathValue("orderID"), actor))
}

func (s *Server) delayOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason          string     `json:"reason"`
		RevisedEstimate *time.Time `json:"revised_estimate"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, s.deps.Progress.MarkOrderDelayed(r.Context(), r.PathValue("orderID"), actor, req.Reason, req.RevisedEstimate))
}

func (s *Server) pickUp(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeResult(w, s.deps.Progress.MarkPickedUp(r.Context(), r.PathValue("orderID"), actor))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, s.deps.Progress.Cancel(r.Context(), r.PathValue("orderID"), actor, req.Reason))
}

func (s *Server) attachProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		ProofURL string `json:"proof_url"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, s.deps.Progress.AttachPaymentProof(r.Context(), r.PathValue("orderID"), req.ProofURL, actor))
}

func (s *Server) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	status := order.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	writeResult(w, s.deps.Progress.SetPaymentStatus(r.Context(), r.PathValue("orderID"), status, actor, req.Reason))
}

func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var evt contracts.PaymentReportedEvent
	if !decode(w, r, &evt) {
		return
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}

	o, duplicate, err := s.deps.Payments.Handle(r.Context(), evt)
	if err != nil {
		s.fail(w, "payment webhook", err)
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) runSweep(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.sweeps[r.PathValue("task")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown sweep")
		return
	}

	report, err := sw.RunOnce(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, report)
	case err != nil:
		s.logger.Error("sweep trigger failed", "task", sw.Name(), "err", err)
		writeError(w, http.StatusServiceUnavailable, apperr.Code(err), err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	unread, _ := strconv.ParseBool(q.Get("unread"))

	records, total, err := s.deps.Notifications.List(r.Context(), userID, unread, queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.fail(w, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": records, "total": total})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.deps.Notifications.MarkRead(r.Context(), userID, r.PathValue("notificationID")); err != nil {
		s.fail(w, "mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:    q.Get("actor"),
		Action:     q.Get("action"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
	}
	var err error
	if f.From, err = queryTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid from")
		return
	}
	if f.To, err = queryTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid to")
		return
	}

	entries, total, err := s.deps.Audit.Query(r.Context(), f)
	if err != nil {
		s.fail(w, "query audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "missing X-User-ID header")
		return "", false
	}
	return id, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := apperr.Code(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
	}
	writeError(w, status, code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case "INVALID_TRANSITION", "INELIGIBLE_STATE":
		return http.StatusConflict
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_INPUT", "AMOUNT_MISMATCH":
		return http.StatusBadRequest
	case "TRANSIENT_STORE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode accepts an empty body; handlers validate required fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body")
		return false
	}
	return true
}

func queryInt(raw string) int {
	v, _ := strconv.Atoi(raw)
	return v
}

func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func writeResult(w http.ResponseWriter, res fulfillment.Result) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Code)
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
