package migration

import (
	"fmt"

	"github.com/evoloop/evoloop/config"
)

// NewMigratorFromConfig builds a Migrator from the database config section.
func NewMigratorFromConfig(dbCfg config.DatabaseConfig) (*Migrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database driver: %w", err)
	}

	url := BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	if url == "" {
		return nil, fmt.Errorf("failed to build database URL for driver %s", dbCfg.Driver)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}

// NewMigratorFromURL builds a Migrator from an explicit driver name and
// connection URL, bypassing the config file.
func NewMigratorFromURL(driver, url string) (*Migrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database driver: %w", err)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}
