package server

import (
	"net/http"

	"nhooyr.io/websocket"

	"guardianlink/internal/auth"
)

// ws upgrades the connection and hands it to the coordinator. Browsers
// cannot set headers on websocket dials, so the token rides in the query
// string.
func (h *handler) ws(signer auth.Signer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Missing token")
			return
		}
		if _, err := signer.Parse(token); err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.logger.Errorw("websocket accept", "error", err)
			return
		}

		h.coordinator.HandleConn(r.Context(), conn)
	}
}
