package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"tiximax/api"
)

// writeUpstreamError passes back-end HTTP errors through with their status
// and maps transport failures to 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var herr *api.HTTPError
	if errors.As(err, &herr) {
		writeError(w, herr.StatusCode, herr.Body)
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	client := h.engine.Client()

	var (
		res *api.Page[api.Order]
		err error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		res, err = client.ListOrdersByStatus(r.Context(), status, page, size)
	} else {
		res, err = client.ListOrders(r.Context(), page, size)
	}
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}
	order, err := h.engine.Client().GetOrder(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, order)
}

func (h *Handlers) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerCode == "" || req.DestinationID == 0 {
		writeError(w, http.StatusBadRequest, "customerCode and destinationId are required")
		return
	}
	order, err := h.engine.Client().CreateOrder(r.Context(), &req)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, order)
}

func (h *Handlers) apiListDestinations(w http.ResponseWriter, r *http.Request) {
	dests, err := h.engine.Client().ListDestinations(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if dests == nil {
		dests = []api.Destination{}
	}
	writeJSON(w, dests)
}
