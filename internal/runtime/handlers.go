package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/narralabs/narra-core/internal/reader"
	"github.com/narralabs/narra-core/internal/store"
)

// settingsHandler is the external configuration surface: the single writer of
// the settings store. Writes are refused while a read is in progress so the
// settings stay immutable for the duration of a pipeline run.
type settingsHandler struct {
	store  *store.Store
	reader *reader.Service
	logger *slog.Logger
}

func newSettingsHandler(st *store.Store, rd *reader.Service, logger *slog.Logger) *settingsHandler {
	return &settingsHandler{store: st, reader: rd, logger: logger}
}

func (h *settingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *settingsHandler) get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Settings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		store.KeyAPIKey:     settings.APIKey,
		store.KeyResourceID: settings.ResourceID,
		store.KeySpeaker:    settings.Speaker,
		store.KeyAdditions:  settings.Additions,
		store.KeyFormat:     settings.Format,
		store.KeySampleRate: settings.SampleRate,
		store.KeyMaxLength:  settings.MaxLength,
	})
}

func (h *settingsHandler) put(w http.ResponseWriter, r *http.Request) {
	if h.reader.Busy() {
		http.Error(w, "a read is in progress", http.StatusConflict)
		return
	}
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}
	for key, value := range updates {
		if err := h.store.SetSetting(r.Context(), key, value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	h.logger.Info("settings updated", slog.Int("keys", len(updates)))
	w.WriteHeader(http.StatusNoContent)
}

type historyHandler struct {
	store  *store.Store
	logger *slog.Logger
}

func newHistoryHandler(st *store.Store, logger *slog.Logger) *historyHandler {
	return &historyHandler{store: st, logger: logger}
}

func (h *historyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	entries, err := h.store.ListHistory(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
