// Package db provides the embedded database migrations.
package db

import "embed"

// Migrations holds the versioned golang-migrate files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
