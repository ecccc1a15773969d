package cli

import (
	"log/slog"

	"github.com/mhartz/replicaudit/internal/config"
	"github.com/mhartz/replicaudit/internal/disk"
	"github.com/mhartz/replicaudit/internal/policy"
	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/rundb"
)

// toolkit bundles the collaborators every pass needs. Built once per
// command invocation from the config and policy files.
type toolkit struct {
	Config   config.Config
	Policy   *policy.Policy
	Store    *rundb.Store
	Registry registry.Client
	Disk     *disk.Inventory
}

// openToolkit loads config and policy and opens the collaborators.
// regOverride replaces the HTTP registry client when non-nil (tests).
func openToolkit(configPath string, regOverride registry.Client) (*toolkit, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	pol, err := policy.Load(cfg.Policy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
	}

	slog.Info("opening run database", "path", cfg.RunDB)
	store, err := rundb.Open(cfg.RunDB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open run database", err)
	}

	reg := regOverride
	if reg == nil {
		reg = registry.NewHTTPClient(cfg.Registry.BaseURL, cfg.Registry.Timeout())
	}

	return &toolkit{
		Config:   cfg,
		Policy:   pol,
		Store:    store,
		Registry: reg,
		Disk:     disk.NewInventory(cfg.DataRoot),
	}, nil
}

// Close releases the toolkit's resources.
func (t *toolkit) Close() {
	if err := t.Store.Close(); err != nil {
		slog.Error("error closing run database", "error", err)
	}
}
