// Package migration manages the engine's database schema with embedded SQL
// migrations. The same migration set ships in three dialects, selected by the
// configured database driver, and is applied through golang-migrate.
package migration
