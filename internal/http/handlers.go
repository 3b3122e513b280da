package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

type TicketService interface {
	Create(ctx context.Context, userID uuid.UUID, title string, price float64) (domain.Ticket, error)
	Update(ctx context.Context, userID, id uuid.UUID, title string, price float64) (domain.Ticket, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	ListAvailable(ctx context.Context) ([]domain.Ticket, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, userID, ticketID uuid.UUID) (domain.Order, error)
	GetOrder(ctx context.Context, userID, id uuid.UUID) (domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	CancelOrder(ctx context.Context, userID, id uuid.UUID) (domain.Order, error)
}

type PaymentService interface {
	CreateCharge(ctx context.Context, userID, orderID uuid.UUID, source string) (domain.Payment, error)
	GetPayment(ctx context.Context, userID, orderID uuid.UUID) (domain.Payment, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers serves whichever service the process runs. Unset services have no
// routes.
type Handlers struct {
	Tickets  TicketService
	Orders   OrderService
	Payments PaymentService
	Ready    []ReadyCheck
}

type ticketJSON struct {
	ID      uuid.UUID  `json:"id"`
	Title   string     `json:"title"`
	Price   float64    `json:"price"`
	UserID  uuid.UUID  `json:"userId"`
	OrderID *uuid.UUID `json:"orderId,omitempty"`
	Version int64      `json:"version"`
}

func toTicketJSON(t domain.Ticket) ticketJSON {
	return ticketJSON{ID: t.ID, Title: t.Title, Price: t.Price, UserID: t.UserID, OrderID: t.OrderID, Version: t.Version}
}

type orderJSON struct {
	ID        uuid.UUID          `json:"id"`
	UserID    uuid.UUID          `json:"userId"`
	Status    domain.OrderStatus `json:"status"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Ticket    ticketRefJSON      `json:"ticket"`
	Version   int64              `json:"version"`
}

type ticketRefJSON struct {
	ID    uuid.UUID `json:"id"`
	Price float64   `json:"price"`
}

func toOrderJSON(o domain.Order) orderJSON {
	return orderJSON{
		ID:        o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		ExpiresAt: o.ExpiresAt,
		Ticket:    ticketRefJSON{ID: o.TicketID, Price: o.Price},
		Version:   o.Version,
	}
}

type ticketRequest struct {
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

func (req ticketRequest) validate() []errorItem {
	var errs []errorItem
	if strings.TrimSpace(req.Title) == "" {
		errs = append(errs, errorItem{Message: "Title is required", Field: "title"})
	}
	if req.Price <= 0 {
		errs = append(errs, errorItem{Message: "Price must be greater than 0", Field: "price"})
	}
	return errs
}

func (h *Handlers) CreateTicket(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	var req ticketRequest
	if !decode(w, r, &req) {
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeFieldErrors(w, errs...)
		return
	}

	ticket, err := h.Tickets.Create(r.Context(), userID, req.Title, req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketJSON(ticket))
}

func (h *Handlers) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ticketRequest
	if !decode(w, r, &req) {
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeFieldErrors(w, errs...)
		return
	}

	ticket, err := h.Tickets.Update(r.Context(), userID, id, req.Title, req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketJSON(ticket))
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ticket, err := h.Tickets.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketJSON(ticket))
}

func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Tickets.ListAvailable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ticketJSON, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	var req struct {
		TicketID string `json:"ticketId"`
	}
	if !decode(w, r, &req) {
		return
	}
	ticketID, err := uuid.Parse(req.TicketID)
	if err != nil {
		writeFieldErrors(w, errorItem{Message: "TicketId must be provided", Field: "ticketId"})
		return
	}

	order, err := h.Orders.CreateOrder(r.Context(), userID, ticketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderJSON(order))
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.GetOrder(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(order))
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	orders, err := h.Orders.ListOrders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderJSON(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Orders.CancelOrder(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	var req struct {
		Token   string `json:"token"`
		OrderID string `json:"orderId"`
	}
	if !decode(w, r, &req) {
		return
	}
	var errs []errorItem
	if strings.TrimSpace(req.Token) == "" {
		errs = append(errs, errorItem{Message: "Token is required", Field: "token"})
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		errs = append(errs, errorItem{Message: "OrderId is required", Field: "orderId"})
	}
	if len(errs) > 0 {
		writeFieldErrors(w, errs...)
		return
	}

	payment, err := h.Payments.CreateCharge(r.Context(), userID, orderID, req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentJSON(payment))
}

// GetPayment looks a payment up by the id of the order it paid for.
func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r.Context())
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.Payments.GetPayment(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentJSON(payment))
}

func paymentJSON(p domain.Payment) map[string]interface{} {
	return map[string]interface{}{"id": p.ID, "orderId": p.OrderID, "stripeId": p.ChargeID}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range h.Ready {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFieldErrors(w, errorItem{Message: "Invalid request body"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeFieldErrors(w, errorItem{Message: "invalid id", Field: "id"})
		return uuid.Nil, false
	}
	return id, true
}
