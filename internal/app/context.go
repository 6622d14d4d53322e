package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/engine"
	"taxline/internal/migrate"
)

// ResolveConfig loads taxline.yml from the workspace, falling back to the
// built-in rule set when the file is absent. An explicit path wins over the
// workspace file.
func ResolveConfig(workspace, explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		cfg, err := config.FromFile(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

// Environment is an opened workspace: migrated database plus the engine built on it.
type Environment struct {
	Conn   *sql.DB
	Engine engine.Engine
}

func (env Environment) Close() error {
	if env.Conn == nil {
		return nil
	}
	return env.Conn.Close()
}

// Open prepares the workspace directory, opens and migrates its database and
// builds an engine for the resolved config.
func Open(ctx context.Context, workspace, configPath string, logger *log.Logger) (Environment, error) {
	cfg, err := ResolveConfig(workspace, configPath)
	if err != nil {
		return Environment{}, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return Environment{}, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return Environment{}, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return Environment{}, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if logger != nil {
		e.Logger = logger
	}
	return Environment{Conn: conn, Engine: e}, nil
}
