package payments

import (
	"encoding/json"
	"net/http"

	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// CallbackHandler exposes the two gateway callback entry points over HTTP.
type CallbackHandler struct {
	reconciler *Reconciler
	logger     *logging.Logger
}

// NewCallbackHandler creates the gateway callback handler.
func NewCallbackHandler(reconciler *Reconciler, logger *logging.Logger) *CallbackHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallbackHandler{reconciler: reconciler, logger: logger}
}

// ipnAck is the acknowledgment shape the gateway expects on its async
// notification channel.
type ipnAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// returnResponse is what the client browser lands on after checkout.
type returnResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	OrderRef string `json:"order_ref,omitempty"`
}

// HandleReturn serves the synchronous browser redirect. It runs the same
// reconcile pipeline as the IPN, so whichever arrives first settles the
// payment and the other becomes a no-op.
func (h *CallbackHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	out, err := h.reconciler.Reconcile(r.Context(), EntryReturn, r.URL.Query())
	if err != nil {
		h.logger.Error("return callback failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, returnResponse{Message: "payment could not be verified, please contact the spa"})
		return
	}

	resp := returnResponse{Success: out.Success, Message: out.Message}
	if out.Payment != nil {
		resp.OrderRef = out.Payment.OrderRef
	}
	status := http.StatusOK
	if !out.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// HandleIPN serves the gateway's server-to-server notification. The
// response is always 200 with an RspCode; a non-00 ack tells the provider
// what went wrong, and 99 invites a retry.
func (h *CallbackHandler) HandleIPN(w http.ResponseWriter, r *http.Request) {
	out, err := h.reconciler.Reconcile(r.Context(), EntryIPN, r.URL.Query())
	if err != nil {
		h.logger.Error("ipn callback failed", "error", err)
		writeJSON(w, http.StatusOK, ipnAck{RspCode: AckInternalError, Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, ipnAck{RspCode: out.Ack, Message: out.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
