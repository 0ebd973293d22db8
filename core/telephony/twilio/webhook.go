package twilio

import (
	"net/http"

	"github.com/koscakluka/ema-voice/core/events"
)

// Publisher receives the recording events.
type Publisher interface {
	Publish(events.Event)
}

// RecordingWebhook handles Twilio recording status callbacks and publishes
// a [events.RecordingAvailable] for every completed recording. The
// conversation is taken from the conversation_id path value, or query
// parameter when the route has none.
type RecordingWebhook struct {
	Events Publisher
}

func (h *RecordingWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	conversationID := r.PathValue("conversation_id")
	if conversationID == "" {
		conversationID = r.Form.Get("conversation_id")
	}
	recordingSID := r.PostForm.Get("RecordingSid")
	recordingURL := r.PostForm.Get("RecordingUrl")
	status := r.PostForm.Get("RecordingStatus")

	if conversationID == "" || recordingURL == "" {
		http.Error(w, "missing conversation or recording", http.StatusBadRequest)
		return
	}
	if status != "" && status != "completed" {
		logger.DebugContext(r.Context(), "ignoring recording status", "status", status, "recording_sid", recordingSID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger.InfoContext(r.Context(), "recording available", "conversation.id", conversationID, "recording_sid", recordingSID)
	if h.Events != nil {
		h.Events.Publish(events.NewRecordingAvailable(conversationID, recordingSID, recordingURL))
	}
	w.WriteHeader(http.StatusNoContent)
}
