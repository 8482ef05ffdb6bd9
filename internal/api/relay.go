package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/grayrelay/internal/process"
)

// BroadcastRequest is the body of POST /topics/{topic}/broadcast.
// Payload is any JSON value and is relayed as its raw encoding.
type BroadcastRequest struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// StatusResponse describes the local relay node.
type StatusResponse struct {
	Name              string         `json:"name"`
	NodeID            string         `json:"node_id"`
	Status            string         `json:"status"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	WebSocketClients  int            `json:"websocket_clients"`
	Supervisor        *process.Stats `json:"supervisor,omitempty"`
}

// topicParam returns the unescaped {topic} URL parameter, so topics
// containing "/" can be addressed as %2F.
func topicParam(r *http.Request) (string, bool) {
	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil || topic == "" {
		return "", false
	}
	return topic, true
}

// handleStatus reports the relay's connection state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Name:             s.nodeName,
		Status:           "unavailable",
		WebSocketClients: s.hub.ClientCount(),
	}
	if relay, ok := s.relay(); ok {
		st := relay.State()
		resp.NodeID = st.NodeID
		resp.Status = st.Status.String()
		resp.ReconnectAttempts = st.ReconnectAttempts
	}
	if s.stats != nil {
		stats := s.stats.Stats()
		resp.Supervisor = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListTopics lists topics with local subscribers.
func (s *Server) handleListTopics(w http.ResponseWriter, _ *http.Request) {
	relay, ok := s.relay()
	if !ok {
		writeUnavailable(w)
		return
	}

	topics, err := relay.List()
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// handleListSubscribers lists the IDs of a topic's local subscribers.
func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		writeBadRequest(w, "invalid topic")
		return
	}
	relay, ok := s.relay()
	if !ok {
		writeUnavailable(w)
		return
	}

	subs, err := relay.Subscribers(topic)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":       topic,
		"subscribers": ids,
		"count":       len(ids),
	})
}

// handleBroadcast publishes a payload to a topic on every node.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicParam(r)
	if !ok {
		writeBadRequest(w, "invalid topic")
		return
	}

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	relay, ok := s.relay()
	if !ok {
		writeUnavailable(w)
		return
	}

	if err := relay.Broadcast(r.Context(), req.Sender, topic, req.Payload); err != nil {
		s.logger.Debug("broadcast rejected", "topic", topic, "error", err)
		writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"topic":  topic,
	})
}

// handleListNodes lists the relay nodes registered in discovery.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.nodes == nil {
		writeNotFound(w, "discovery is disabled")
		return
	}

	nodes, err := s.nodes.ListNodes(r.Context())
	if err != nil {
		s.logger.Warn("listing nodes failed", "error", err)
		writeInternalError(w, "failed to list nodes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}
