package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type PlaceOrderReq struct {
	CustomerID int64 `json:"customerid" validate:"required,gt=0"`
	ProductID  int64 `json:"productid" validate:"required,gt=0"`
	Qty        int   `json:"qty" validate:"gt=0,lte=2147483647"`
}

type PlaceOrderResp struct {
	Message     string             `json:"message"`
	Order       orders.Order       `json:"order"`
	Transaction orders.Transaction `json:"transaction"`
}

type UpdateStatusReq struct {
	NewStatus string `json:"new_status" validate:"required"`
}

// RecordTransactionReq accepts the amount as a JSON number or string.
type RecordTransactionReq struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
	Status string           `json:"status"`
}

type OrdersHandler struct {
	Service *orders.Service
	Timeout time.Duration
	Log     *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/place", h.placeOrder)
		r.Get("/customer/{customerid}", h.ordersByCustomer)
		r.Get("/seller/{sellerid}", h.ordersBySeller)
		r.Get("/transactions/{customerid}", h.transactionsByCustomer)
		r.Get("/{orderid}", h.getOrder)
		r.Put("/{orderid}/status", h.updateStatus)
		r.Put("/{orderid}/cancel", h.cancelOrder)
		r.Get("/{orderid}/transaction", h.getTransaction)
		r.Post("/{orderid}/transaction", h.recordTransaction)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case orders.IsBusiness(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		if h.Log != nil {
			h.Log.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// requestContext bounds the call and carries the request id into published events.
func (h *OrdersHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, timeout)
}

// decode reads a JSON body and runs struct validation; false means a 400 was written.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	p, err := h.Service.PlaceOrder(ctx, req.CustomerID, req.ProductID, req.Qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaceOrderResp{
		Message: fmt.Sprintf("Order %d placed successfully. Payment of %s completed.",
			p.Order.ID, p.Transaction.Amount.StringFixed(2)),
		Order:       p.Order,
		Transaction: p.Transaction,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) ordersByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	list, err := h.Service.OrdersByCustomer(ctx, customerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) ordersBySeller(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathID(w, r, "sellerid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	list, err := h.Service.OrdersBySeller(ctx, sellerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderid")
	if !ok {
		return
	}
	var req UpdateStatusReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	ch, err := h.Service.UpdateStatus(ctx, orderID, req.NewStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Order %d status updated to '%s'.", orderID, ch.To),
	})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	if _, err := h.Service.CancelOrder(ctx, orderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Order %d cancelled successfully and refund initiated.", orderID),
	})
}

func (h *OrdersHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	t, err := h.Service.TransactionForOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *OrdersHandler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderid")
	if !ok {
		return
	}
	var req RecordTransactionReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	t, err := h.Service.RecordTransaction(ctx, orderID, *req.Amount, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Transaction for order %d recorded as '%s' (%s).",
			orderID, t.Status, t.Amount.StringFixed(2)),
	})
}

func (h *OrdersHandler) transactionsByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerid")
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	list, err := h.Service.TransactionsByCustomer(ctx, customerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
