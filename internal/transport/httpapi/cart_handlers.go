package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *api) getCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.carts.GetOpenCart(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartFromView(view))
}

func (a *api) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequestDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object with product_id and quantity")
		return
	}

	view, err := a.carts.AddItem(r.Context(), userIDFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartFromView(view))
}

func (a *api) removeCartItem(w http.ResponseWriter, r *http.Request) {
	view, err := a.carts.RemoveItem(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartFromView(view))
}
