package proxvoice

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

const initSQL = `
CREATE TABLE IF NOT EXISTS ban (
	addr TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel (
	idx INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	password TEXT NOT NULL,
	locked INTEGER NOT NULL,
	hidden INTEGER NOT NULL,
	has_override INTEGER NOT NULL,
	proximity_distance REAL NOT NULL,
	proximity_toggle INTEGER NOT NULL,
	voice_effects INTEGER NOT NULL
);
`

// OpenDB opens the persistence database selected by cfg: SQLite3 in
// the storage directory by default, PostgreSQL when configured.
func OpenDB(cfg DBConfig) (*DB, error) {
	switch cfg.Driver {
	case "", "sqlite3":
		return openSQLite3(cfg.Name)
	case "postgres":
		return openPSQL(cfg)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func openSQLite3(name string) (*DB, error) {
	os.Mkdir("storage", 0777)

	if name == "" {
		name = "proxvoice.sqlite"
	}

	db, err := sql.Open("sqlite3", "storage/"+name)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db}, nil
}

func openPSQL(cfg DBConfig) (*DB, error) {
	conn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)

	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db}, nil
}
