package hookbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/agentmux/core"
	"pkt.systems/agentmux/internal/logx"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// hookEvents are the agent CLI lifecycle events the bridge subscribes to.
var hookEvents = []schema.HookEventKind{
	schema.HookStop,
	schema.HookSubagentStop,
	schema.HookUserPromptSubmit,
	schema.HookNotification,
}

// Installer writes the agent CLI hook configuration. A single shell script is
// placed in the state directory; per-project settings files reference it with
// the event name and project id as arguments. The script's only job is to
// call back into the bridge endpoint.
type Installer struct {
	endpoint   string
	scriptPath string
	log        pslog.Logger
}

// NewInstaller writes the hook script under scriptDir and returns an
// installer whose per-project settings will invoke it against endpoint.
func NewInstaller(endpoint, scriptDir string, logger pslog.Logger) (*Installer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("hook endpoint is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(scriptDir, "agentmux-hook.sh")
	if err := os.WriteFile(scriptPath, []byte(hookScript(endpoint)), 0o755); err != nil {
		return nil, err
	}
	logger.Debug("hook script written", "path", scriptPath)
	return &Installer{endpoint: endpoint, scriptPath: scriptPath, log: logger}, nil
}

func hookScript(endpoint string) string {
	return fmt.Sprintf(`#!/bin/sh
# Forwards agent lifecycle events to the local agentmux status bridge.
EVENT="$1"
PROJECT_ID="$2"
SESSION_ID="${3:-}"
curl -fsS -m 5 -X POST %q \
  -H 'Content-Type: application/json' \
  -d "{\"event\":\"$EVENT\",\"projectId\":\"$PROJECT_ID\",\"sessionId\":\"$SESSION_ID\"}" \
  >/dev/null 2>&1 || true
`, endpoint+"/api/hooks")
}

// Install registers the hook script for all four lifecycle events in the
// project's agent settings file, preserving unrelated settings already there.
func (i *Installer) Install(projectPath string, projectID string) error {
	dir := filepath.Join(projectPath, ".claude")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "settings.json")

	settings := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("existing settings unreadable: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	for _, event := range hookEvents {
		command := fmt.Sprintf("%s %s %s", i.scriptPath, event, projectID)
		hooks[string(event)] = []any{
			map[string]any{
				"hooks": []any{
					map[string]any{"type": "command", "command": command},
				},
			},
		}
	}
	settings["hooks"] = hooks

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "settings-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	i.log.Debug("hooks installed", "project", projectID, "path", path)
	return nil
}

// Handler returns the HTTP endpoint the hook script posts to. Events are
// mapped to session state transitions and republished by the service.
func Handler(service core.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req schema.HookEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		log := logx.WithProject(r.Context(), req.ProjectID).With("hook", req.Kind)
		resp, err := service.HandleHookEvent(r.Context(), req)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				// Hooks can outlive sessions; acknowledge and move on.
				w.WriteHeader(http.StatusOK)
				return
			}
			log.Warn("hook event rejected", "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
