package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tiximax/realtime"
	"tiximax/store"
)

type feedView struct {
	Topic    string `json:"topic"`
	Active   bool   `json:"active"`
	Messages int    `json:"messages"`
}

func (h *Handlers) apiListFeeds(w http.ResponseWriter, r *http.Request) {
	var feeds []feedView
	for _, topic := range h.engine.FeedTopics() {
		f, err := h.engine.Feed(topic)
		if err != nil {
			continue
		}
		feeds = append(feeds, feedView{Topic: topic, Active: f.Active(), Messages: len(f.Messages())})
	}
	writeJSON(w, map[string]any{
		"state": h.engine.Channel().State().String(),
		"feeds": feeds,
	})
}

func (h *Handlers) apiFeedMessages(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topics := h.engine.FeedTopics()
		if len(topics) == 0 {
			writeError(w, http.StatusNotFound, "no feeds configured")
			return
		}
		topic = topics[0]
	}
	f, err := h.engine.Feed(topic)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	msgs := f.Messages()
	if msgs == nil {
		msgs = []realtime.Message{}
	}
	writeJSON(w, map[string]any{
		"topic":     topic,
		"connected": f.Connected(),
		"messages":  msgs,
	})
}

type sendRequest struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// apiSend publishes a JSON body. With ?queue=1 a send that finds the
// channel down is stored in the outbox and answered with 202.
func (h *Handlers) apiSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Body) == 0 {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	out, err := h.engine.Send(req.Destination, req.Body, queryFlag(r, "queue"), username(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch {
	case out.Queued:
		writeJSONStatus(w, http.StatusAccepted, out)
	case out.Result.Status == realtime.SendOK:
		writeJSON(w, out)
	case out.Result.Status == realtime.SendNotConnected:
		writeJSONStatus(w, http.StatusServiceUnavailable, out)
	case out.Result.Status == realtime.SendEncodeFailed:
		writeJSONStatus(w, http.StatusBadRequest, out)
	default:
		writeJSONStatus(w, http.StatusBadGateway, out)
	}
}

func (h *Handlers) apiGetOutbox(w http.ResponseWriter, r *http.Request) {
	msg, err := h.engine.DB().GetOutbox(chi.URLParam(r, "msgID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "outbox message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, msg)
}

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	if !health.OK() {
		writeJSONStatus(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, health)
}
