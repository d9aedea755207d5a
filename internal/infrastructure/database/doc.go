// Package database opens the input emulator's SQLite state file and applies
// its schema migrations.
//
// The driver keeps two kinds of state here: device sightings recorded by
// the device registry and the last motion compensation settings. Both are
// written from background workers, never from runtime hook paths.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are registered by importing the migrations package.
package database
