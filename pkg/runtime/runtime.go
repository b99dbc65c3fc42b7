// Package runtime wires the server's shared state together.
//
// A Runtime owns the persistent stores and the live-session registry and is
// injected into every adapter before it starts serving. Adapters never open
// store directories themselves.
package runtime

import (
	"fmt"
	"path/filepath"

	"github.com/lanchat/lanchat/pkg/registry"
	"github.com/lanchat/lanchat/pkg/store/group"
	"github.com/lanchat/lanchat/pkg/store/history"
	"github.com/lanchat/lanchat/pkg/store/user"
)

// Runtime is the shared state of a running server.
type Runtime struct {
	Users    *user.Store
	Groups   *group.Store
	History  *history.Store
	Sessions *registry.Registry

	dataDir string
}

// New bootstraps the data directory layout (users/, groups/, history/ under
// dataDir) and returns a runtime over it.
func New(dataDir string) (*Runtime, error) {
	users, err := user.NewStore(filepath.Join(dataDir, "users"))
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	groups, err := group.NewStore(filepath.Join(dataDir, "groups"))
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	hist, err := history.NewStore(filepath.Join(dataDir, "history"))
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	return &Runtime{
		Users:    users,
		Groups:   groups,
		History:  hist,
		Sessions: registry.New(),
		dataDir:  dataDir,
	}, nil
}

// DataDir returns the root data directory the runtime was created over.
func (r *Runtime) DataDir() string {
	return r.dataDir
}
