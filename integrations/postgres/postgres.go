// Copyright ©2021 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package postgres backs the opaque key/value depot that the live Tuya
// configuration is persisted to and restored from.
package postgres

import (
	"context"
	"log"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pelletier/go-toml"

	"github.com/SMerrony/aghast/config"
	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/mqtt"
)

const (
	configFilename = "/postgres.toml"
	createTableSQL = `CREATE TABLE IF NOT EXISTS config (
		category text NOT NULL,
		name text NOT NULL,
		value jsonb NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (category, name)
	)`
	upsertSQL = `INSERT INTO config (category, name, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (category, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	selectSQL = `SELECT value FROM config WHERE category = $1 AND name = $2`
)

// The Postgres type encapsulates the Depot Integration.
type Postgres struct {
	PgHost     string
	PgPort     string
	PgUser     string
	PgPassword string
	PgDatabase string
	mutex      sync.RWMutex
	dbpool     *pgxpool.Pool
}

// LoadConfig loads and stores the configuration for this Integration.
func (p *Postgres) LoadConfig(confdir string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	confBytes, err := config.PreprocessTOML(confdir, configFilename)
	if err != nil {
		log.Println("ERROR: Could not load Postgres configuration ", err.Error())
		return err
	}
	if err := toml.Unmarshal(confBytes, p); err != nil {
		log.Printf("ERROR: Could not load Postgres config due to %s\n", err.Error())
		return err
	}
	return nil
}

// ProvidesDeviceTypes returns a slice of device types that this Integration supplies.
func (p *Postgres) ProvidesDeviceTypes() []string {
	return []string{"Depot"}
}

// Start connects to the database and ensures the config table exists.
// evChan is unused — the depot is driven entirely by Put/Get calls from the
// Tuya control surface — but is accepted to satisfy the common Integration
// lifecycle signature.
func (p *Postgres) Start(evChan chan events.EventT, mq *mqtt.MQTT) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	dbURL := "postgresql://" + p.PgUser + ":" + p.PgPassword + "@" + p.PgHost + ":" + p.PgPort + "/" + p.PgDatabase
	pool, err := pgxpool.Connect(context.Background(), dbURL)
	if err != nil {
		log.Printf("WARNING: Postgres depot failed to connect to DB with %s - %s\n", dbURL, err.Error())
		return
	}
	if _, err := pool.Exec(context.Background(), createTableSQL); err != nil {
		log.Printf("WARNING: Postgres depot could not ensure config table - %s\n", err.Error())
		pool.Close()
		return
	}
	p.dbpool = pool
}

// Stop closes the connection pool.
func (p *Postgres) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.dbpool != nil {
		p.dbpool.Close()
		p.dbpool = nil
	}
}

// Put stores value under (category, name), upserting any prior value.
func (p *Postgres) Put(category, name string, value []byte) error {
	p.mutex.RLock()
	pool := p.dbpool
	p.mutex.RUnlock()
	if pool == nil {
		return errDepotUnavailable
	}
	_, err := pool.Exec(context.Background(), upsertSQL, category, name, value)
	return err
}

// Get retrieves the value stored under (category, name). found is false, with
// a nil error, if no row exists yet.
func (p *Postgres) Get(category, name string) (value []byte, found bool, err error) {
	p.mutex.RLock()
	pool := p.dbpool
	p.mutex.RUnlock()
	if pool == nil {
		return nil, false, errDepotUnavailable
	}
	row := pool.QueryRow(context.Background(), selectSQL, category, name)
	if err := row.Scan(&value); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

type depotError struct{ msg string }

func (e *depotError) Error() string { return e.msg }

var errDepotUnavailable = &depotError{"postgres depot not connected"}
