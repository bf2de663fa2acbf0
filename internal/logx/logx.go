package logx

import (
	"context"

	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	projectKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithProject annotates the logger with the project id if present.
func WithProject(ctx context.Context, projectID schema.ProjectID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if projectID != "" {
		if current, ok := ctx.Value(projectKey).(schema.ProjectID); ok && current == projectID {
			return log
		}
		log = log.With("project", projectID)
	}
	return log
}

// WithState annotates the logger with a session state when available.
func WithState(log pslog.Logger, state schema.SessionState) pslog.Logger {
	if state != "" {
		log = log.With("state", state)
	}
	return log
}

// ContextWithProject stores the project marker on the context for log
// de-duplication.
func ContextWithProject(ctx context.Context, projectID schema.ProjectID) context.Context {
	if ctx == nil || projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, projectKey, projectID)
}

// ContextWithProjectLogger attaches the logger and project marker to the context.
func ContextWithProjectLogger(ctx context.Context, log pslog.Logger, projectID schema.ProjectID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithProject(ctx, projectID)
}
