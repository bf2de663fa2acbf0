package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidProject indicates an invalid project identifier.
	ErrInvalidProject = errors.New("invalid project")
	// ErrInvalidPath indicates a missing or unusable project path.
	ErrInvalidPath = errors.New("invalid project path")
	// ErrProjectNotFound indicates no session exists for the project.
	ErrProjectNotFound = errors.New("project not found")
	// ErrItemNotFound indicates a stored item could not be found.
	ErrItemNotFound = errors.New("item not found")
	// ErrDuplicateName indicates a stored item name is already taken.
	ErrDuplicateName = errors.New("name already exists")
	// ErrRestrictedBranch indicates a git operation was blocked by branch policy.
	ErrRestrictedBranch = errors.New("branch is restricted")
	// ErrShuttingDown indicates the service no longer accepts new sessions.
	ErrShuttingDown = errors.New("shutting down")
)
