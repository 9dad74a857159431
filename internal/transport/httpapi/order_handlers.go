package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey - ключ, под которым сохраняется ответ на оформление.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ отдан из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	createOrderRoute = "POST /api/v1/orders"
)

var errInvalidBody = errors.New("invalid request body")

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
		return
	}
	userID := userIDFrom(r.Context())

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || a.guard == nil {
		status, data := a.placeOrder(r, userID, body)
		writeRaw(w, status, data)
		return
	}

	decision, err := a.guard.Begin(r.Context(), key, idempotency.RequestHash(userID, createOrderRoute, body))
	if err != nil {
		a.writeError(w, r, domain.Internal("idempotency.begin", err))
		return
	}
	switch decision.Outcome {
	case idempotency.OutcomeReplay:
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeRaw(w, decision.Record.HTTPStatus, decision.Record.ResponseBody)
		return
	case idempotency.OutcomeInProgress:
		writeProblem(w, http.StatusConflict, "idempotency_in_progress", "request with this idempotency key is still processing")
		return
	case idempotency.OutcomeMismatch:
		writeProblem(w, http.StatusConflict, "idempotency_key_reused", "idempotency key was used with a different request")
		return
	}

	finished := false
	defer func() {
		// Паника в оформлении: ключ не должен остаться в processing до конца TTL.
		if !finished {
			a.guard.Release(r.Context(), key)
		}
	}()

	status, data := a.placeOrder(r, userID, body)
	a.guard.Finish(r.Context(), key, status, data)
	finished = true
	writeRaw(w, status, data)
}

// placeOrder выполняет оформление и возвращает готовый ответ, чтобы его
// можно было сохранить под ключом идемпотентности.
func (a *api) placeOrder(r *http.Request, userID string, body []byte) (int, []byte) {
	items, err := decodeOrderItems(body)
	if err != nil {
		return encodeResponse(http.StatusBadRequest, problem{Error: err.Error(), Code: "invalid_body"})
	}

	var order domain.Order
	if len(items) == 0 {
		order, err = a.checkout.CheckoutCart(r.Context(), userID)
	} else {
		order, err = a.checkout.CreateOrder(r.Context(), userID, items)
	}
	if err != nil {
		status, p := errorResponse(err)
		if status == http.StatusInternalServerError {
			a.logger.WithError(err).WithField("user_id", userID).Error("checkout failed")
		}
		return encodeResponse(status, p)
	}
	return encodeResponse(http.StatusCreated, orderFromDomain(order))
}

// decodeOrderItems: пустое тело или пустой items означают оформление корзины.
func decodeOrderItems(body []byte) ([]domain.ItemRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var req createOrderRequestDTO
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, errInvalidBody
	}
	items := make([]domain.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items, nil
}

func encodeResponse(status int, body any) (int, []byte) {
	data, err := json.Marshal(body)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":"internal error","code":"internal"}`)
	}
	return status, data
}

func (a *api) orderHistory(w http.ResponseWriter, r *http.Request) {
	views, err := a.ledger.History(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := historyDTO{Orders: make([]orderDTO, 0, len(views))}
	for _, v := range views {
		out.Orders = append(out.Orders, orderFromView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	view, events, err := a.ledger.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// Чужой заказ неотличим от несуществующего.
	if view.UserID != userIDFrom(r.Context()) {
		a.writeError(w, r, domain.ErrOrderNotFound)
		return
	}
	out := orderFromView(view)
	out.Timeline = timelineFromDomain(events)
	writeJSON(w, http.StatusOK, out)
}

// completeOrder - операторская операция; идентичность пользователя только логируется.
func (a *api) completeOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := a.ledger.Complete(r.Context(), orderID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.WithFields(log.Fields{
		"order_id": orderID,
		"actor":    userIDFrom(r.Context()),
	}).Info("order completed via api")
	writeJSON(w, http.StatusOK, orderFromDomain(order))
}
