package migrations

import "embed"

// Schema files for the local cache and the collector, one directory per
// driver. Both binaries carry them so `mtma migrate` needs no files on disk.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
