package sqlite

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path         string `split_words:"true" default:"dataset/tablepilot.sqlite"`
	MaxOpenConns int    `split_words:"true" default:"1"`
	BusyTimeout  int    `split_words:"true" default:"5"`
}

func (c *Config) New() (*sql.DB, error) {
	db, err := sql.Open("sqlite", c.Path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetConnMaxIdleTime(time.Duration(c.BusyTimeout) * time.Second)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (c *Config) MustNew() *sql.DB {
	db, err := c.New()
	if err != nil {
		panic(err)
	}

	return db
}
