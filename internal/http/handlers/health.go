package handlers

import "net/http"

// Health is the liveness probe. Plain text so load balancers and shell
// checks can match the body directly.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
