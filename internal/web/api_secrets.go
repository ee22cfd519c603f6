package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/vault"
)

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretToAPI(sec))
	}
	jsonResponse(w, out)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.keyring == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	if err := s.keyring.Set(body.Name, body.Description, body.Value); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.publishSecretEvent("secret_saved", body.Name)

	jsonResponse(w, map[string]any{
		"name":        body.Name,
		"description": body.Description,
		"reference":   vault.SecretPrefix + body.Name,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sec, err := s.store.GetSecret(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sec == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}
	if err := s.store.DeleteSecret(name); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishSecretEvent("secret_deleted", name)
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func secretToAPI(sec store.Secret) map[string]any {
	return map[string]any{
		"name":        sec.Name,
		"description": sec.Description,
		"reference":   vault.SecretPrefix + sec.Name,
		"created_at":  sec.CreatedAt,
		"updated_at":  sec.UpdatedAt,
	}
}

// publishSecretEvent announces a secret change. Values are never included.
func (s *Server) publishSecretEvent(eventType, name string) {
	if s.nats == nil {
		return
	}
	event := map[string]any{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      map[string]string{"name": name},
	}
	if err := s.nats.PublishJSON(natsbus.TopicEventsSecret(eventType), event); err != nil {
		slog.Warn("publish secret event", "event", eventType, "error", err)
	}
}
