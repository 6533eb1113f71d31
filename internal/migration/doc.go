// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

/*
Package migration manages the registry's database schema across
PostgreSQL, MySQL, and SQLite, built on golang-migrate.

# Overview

SQL migration files for each dialect are embedded via embed.FS and
applied through the golang-migrate engine, giving the registry
versioned schema changes: forward migration, rollback, step execution,
jumping to a specific version, and forcing a version number after a
manual repair.

# Core types

  - Migrator: the interface naming the full operation set — Up/Down/
    DownAll/Steps/Goto/Force/Version/Status/Info/Close.
  - DefaultMigrator: the default implementation, wrapping a
    golang-migrate instance and its database connection.
  - Config: migration configuration — database type, connection URL,
    migrations table name, lock timeout.
  - DatabaseType: the supported dialect enum (postgres/mysql/sqlite).
  - MigrationStatus / MigrationInfo: applied-state and summary info.
  - CLI: a terminal-facing wrapper around Migrator with formatted
    output.

# Capabilities

  - Multi-database support: DatabaseType plus the embedded SQL tree
    select the right dialect automatically.
  - Factory functions: NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL build a migrator from whichever configuration
    source is on hand.
  - CLI integration: CLI exposes RunUp/RunDown/RunStatus/RunInfo for
    operator-facing tooling.
  - Helpers: ParseDatabaseType parses a dialect string, BuildDatabaseURL
    assembles the dialect-specific connection URL.
*/
package migration
