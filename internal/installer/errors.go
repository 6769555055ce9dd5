package installer

import "errors"

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrPluginNotFound     = errors.New("plugin not found")
	// ErrInstallFailed wraps every failure after the archive was downloaded.
	ErrInstallFailed = errors.New("plugin install failed")
	// ErrInvalidRequest reports a request that names nothing to act on.
	ErrInvalidRequest = errors.New("invalid request")
)
