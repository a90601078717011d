package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/sirupsen/logrus"
)

// secretHeader carries the secret registered with setWebhook
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateSink accepts updates for asynchronous processing
type UpdateSink interface {
	Dispatch(update telegram.Update)
}

// WebhookHandler handles Telegram webhook deliveries
type WebhookHandler struct {
	updates UpdateSink
	secret  string
	logger  *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(updates UpdateSink, secret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		updates: updates,
		secret:  secret,
		logger:  logger,
	}
}

// ServeHTTP handles the webhook endpoint. Updates are queued and
// acknowledged at once so Telegram does not redeliver them.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.WithField("remote_addr", r.RemoteAddr).Warn("Rejected webhook with bad secret")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.WithError(err).Error("Failed to decode webhook payload")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"update_id":    update.UpdateID,
		"has_message":  update.Message != nil,
		"has_callback": update.CallbackQuery != nil,
	}).Debug("Received Telegram update")

	h.updates.Dispatch(update)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
