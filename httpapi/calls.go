package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"pkt.systems/agentmux/internal/fsops"
	"pkt.systems/agentmux/internal/gitops"
	"pkt.systems/agentmux/internal/logx"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

type callFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// handleCall is the generic request surface: one endpoint keyed by call name
// with positional JSON arguments. Every desktop call is reachable here by the
// same name; results use the shared success/error/data envelope and the HTTP
// status is always 200 so transports behave identically.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req schema.CallRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, schema.Fail(err.Error()))
		return
	}
	log := pslog.Ctx(r.Context()).With("method", req.Method)
	fn := s.calls[req.Method]
	if fn == nil {
		log.Warn("call unknown method")
		writeJSON(w, http.StatusOK, schema.Fail(fmt.Sprintf("unknown method %q", req.Method)))
		return
	}
	data, err := fn(r.Context(), req.Args)
	if err != nil {
		log.Warn("call failed", "err", err)
		writeJSON(w, http.StatusOK, schema.Fail(err.Error()))
		return
	}
	log.Debug("call ok")
	writeJSON(w, http.StatusOK, schema.OK(data))
}

func (s *Server) callTable() map[string]callFunc {
	return map[string]callFunc{
		"start-session":        s.callStartSession,
		"stop-session":         s.callStopSession,
		"send-input":           s.callSendInput,
		"resize":               s.callResize,
		"projects-state":       s.callProjectsState,
		"history":              s.callHistory,
		"list-items":           s.callListItems,
		"create-item":          s.callCreateItem,
		"update-item":          s.callUpdateItem,
		"delete-item":          s.callDeleteItem,
		"get-settings":         s.callGetSettings,
		"update-settings":      s.callUpdateSettings,
		"local-address":        s.callLocalAddress,
		"git-branch":           s.callGitBranch,
		"git-status":           s.callGitStatus,
		"git-diff":             s.callGitDiff,
		"git-commit":           s.callGitCommit,
		"git-push":             s.callGitPush,
		"git-revert":           s.callGitRevert,
		"file-tree":            s.callFileTree,
		"read-file":            s.callReadFile,
		"run-test-command":     s.callRunTestCommand,
		"missing-dependencies": s.callMissingDependencies,
	}
}

func argJSON(args []json.RawMessage, index int, target any) error {
	if index >= len(args) {
		return schema.ErrInvalidRequest
	}
	if err := json.Unmarshal(args[index], target); err != nil {
		return fmt.Errorf("%w: argument %d: %v", schema.ErrInvalidRequest, index, err)
	}
	return nil
}

func argString(args []json.RawMessage, index int) (string, error) {
	var value string
	if err := argJSON(args, index, &value); err != nil {
		return "", err
	}
	return value, nil
}

func argProjectID(args []json.RawMessage, index int) (schema.ProjectID, error) {
	value, err := argString(args, index)
	if err != nil {
		return "", err
	}
	return schema.ProjectID(value), nil
}

// projectItem resolves the stored project entry for path-bound calls.
func (s *Server) projectItem(projectID schema.ProjectID) (schema.UnifiedItem, error) {
	item, err := s.store.Item(string(projectID))
	if err != nil {
		return schema.UnifiedItem{}, err
	}
	if item.Type != schema.ItemProject || item.Path == "" {
		return schema.UnifiedItem{}, schema.ErrInvalidProject
	}
	return item, nil
}

func (s *Server) callStartSession(ctx context.Context, args []json.RawMessage) (any, error) {
	var payload struct {
		ProjectID   schema.ProjectID `json:"projectId"`
		Path        string           `json:"path"`
		Command     string           `json:"command"`
		DisplayName string           `json:"displayName"`
		RunCommand  string           `json:"runCommand"`
		YoloMode    bool             `json:"yoloMode"`
	}
	if err := argJSON(args, 0, &payload); err != nil {
		return nil, err
	}
	req := schema.StartSessionRequest{
		ProjectID:   payload.ProjectID,
		Path:        payload.Path,
		Command:     payload.Command,
		DisplayName: schema.ProjectName(payload.DisplayName),
		RunCommand:  payload.RunCommand,
		YoloMode:    payload.YoloMode,
	}
	if req.Path == "" {
		item, err := s.projectItem(payload.ProjectID)
		if err != nil {
			return nil, err
		}
		req.Path = item.Path
		req.DisplayName = schema.ProjectName(item.Name)
		req.RunCommand = item.RunCommand
		req.YoloMode = item.YoloMode
	}
	resp, err := s.service.StartSession(ctx, req)
	if err != nil {
		return nil, err
	}
	logx.WithProject(ctx, req.ProjectID).Info("call started session", "resumed", resp.Resumed)
	return resp, nil
}

func (s *Server) callStopSession(ctx context.Context, args []json.RawMessage) (any, error) {
	projectID, err := argProjectID(args, 0)
	if err != nil {
		return nil, err
	}
	return s.service.StopSession(ctx, schema.StopSessionRequest{ProjectID: projectID})
}

func (s *Server) callSendInput(ctx context.Context, args []json.RawMessage) (any, error) {
	projectID, err := argProjectID(args, 0)
	if err != nil {
		return nil, err
	}
	data, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return s.service.SendInput(ctx, schema.SendInputRequest{ProjectID: projectID, Data: []byte(data)})
}

func (s *Server) callResize(ctx context.Context, args []json.RawMessage) (any, error) {
	projectID, err := argProjectID(args, 0)
	if err != nil {
		return nil, err
	}
	var payload resizePayload
	if err := argJSON(args, 1, &payload); err != nil {
		return nil, err
	}
	if err := s.service.Resize(ctx, schema.ResizeRequest{ProjectID: projectID, Cols: payload.Cols, Rows: payload.Rows}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) callProjectsState(ctx context.Context, args []json.RawMessage) (any, error) {
	return s.service.ProjectsState(ctx), nil
}

func (s *Server) callHistory(ctx context.Context, args []json.RawMessage) (any, error) {
	projectID, err := argProjectID(args, 0)
	if err != nil {
		return nil, err
	}
	return s.service.History(ctx, schema.HistoryRequest{ProjectID: projectID})
}

func (s *Server) callListItems(ctx context.Context, args []json.RawMessage) (any, error) {
	return s.store.Items(), nil
}

func (s *Server) callCreateItem(ctx context.Context, args []json.RawMessage) (any, error) {
	var item schema.UnifiedItem
	if err := argJSON(args, 0, &item); err != nil {
		return nil, err
	}
	return s.store.CreateItem(item)
}

func (s *Server) callUpdateItem(ctx context.Context, args []json.RawMessage) (any, error) {
	var item schema.UnifiedItem
	if err := argJSON(args, 0, &item); err != nil {
		return nil, err
	}
	return s.store.UpdateItem(item)
}

func (s *Server) callDeleteItem(ctx context.Context, args []json.RawMessage) (any, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteItem(id); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) callGetSettings(ctx context.Context, args []json.RawMessage) (any, error) {
	return s.store.Settings(), nil
}

func (s *Server) callUpdateSettings(ctx context.Context, args []json.RawMessage) (any, error) {
	var settings schema.Settings
	if err := argJSON(args, 0, &settings); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// callLocalAddress reports the first non-loopback IPv4 address plus the
// configured listen port, for pairing network consumers.
func (s *Server) callLocalAddress(ctx context.Context, args []json.RawMessage) (any, error) {
	_, port, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		port = ""
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		return map[string]any{"host": ip.String(), "port": port}, nil
	}
	return map[string]any{"host": "127.0.0.1", "port": port}, nil
}

func (s *Server) callGitBranch(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	return gitops.CurrentBranch(ctx, item.Path)
}

func (s *Server) callGitStatus(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	return gitops.Status(ctx, item.Path)
}

func (s *Server) callGitDiff(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	file := ""
	if len(args) > 1 {
		if file, err = argString(args, 1); err != nil {
			return nil, err
		}
	}
	return gitops.Diff(ctx, item.Path, file)
}

func (s *Server) callGitCommit(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	message, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return gitops.Commit(ctx, item.Path, message, item.RestrictedBranches)
}

func (s *Server) callGitPush(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	return gitops.Push(ctx, item.Path, item.RestrictedBranches)
}

func (s *Server) callGitRevert(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	file, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	if err := gitops.Revert(ctx, item.Path, file); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) callFileTree(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	return fsops.Tree(item.Path)
}

func (s *Server) callReadFile(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	rel, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	data, err := fsops.ReadFile(item.Path, rel)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": rel, "content": string(data)}, nil
}

func (s *Server) callRunTestCommand(ctx context.Context, args []json.RawMessage) (any, error) {
	item, err := s.projectArg(args)
	if err != nil {
		return nil, err
	}
	command := item.RunCommand
	if len(args) > 1 {
		if command, err = argString(args, 1); err != nil {
			return nil, err
		}
	}
	output, err := gitops.RunScript(ctx, item.Path, command, s.cfg.TestCommandTimeout)
	if err != nil {
		return map[string]any{"output": output, "error": err.Error()}, nil
	}
	return map[string]any{"output": output}, nil
}

func (s *Server) callMissingDependencies(ctx context.Context, args []json.RawMessage) (any, error) {
	if s.checker == nil {
		return []string{}, nil
	}
	return s.checker.Missing(ctx), nil
}

func (s *Server) projectArg(args []json.RawMessage) (schema.UnifiedItem, error) {
	projectID, err := argProjectID(args, 0)
	if err != nil {
		return schema.UnifiedItem{}, err
	}
	return s.projectItem(projectID)
}
