//go:build sqlite

package main

import (
	"pbserver/internal/storage"
	"pbserver/internal/storage/sqlitestore"
)

func openSQLite(path string) (storage.Store, error) {
	return sqlitestore.Open(path)
}
