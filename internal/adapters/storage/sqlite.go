package storage

// sqlite.go — persistencia del engine sobre database/sql.
//
// Estrategia:
//   - Una fila por mercado, pool, posición (market_id, account), propuesta y
//     saldo. Cada operación del engine llega como una ports.Mutation y se
//     escribe en UNA transacción (UPSERT), así que un fallo nunca deja
//     estado a medias.
//   - Importes como TEXT decimal: nada de float en disco.
//   - Timestamps UTC con ancho fijo, ordenables como texto.
//   - Posiciones vacías se borran: una fila existe solo si algo se posee.
//   - Dos drivers: modernc sqlite (por defecto, sin CGo) y pgx para Postgres.
//     Las queries se escriben con `?` y se reescriben a `$n` para pgx.
//   - Prune al arrancar: intents aplicadas de más de 30 días.

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id                  TEXT PRIMARY KEY,
    seq                 BIGINT  NOT NULL,
    title               TEXT    NOT NULL,
    description         TEXT    NOT NULL DEFAULT '',
    category            TEXT    NOT NULL,
    creator             TEXT    NOT NULL,
    resolver            TEXT    NOT NULL,
    settlement_asset    TEXT    NOT NULL DEFAULT '',
    end_time            TEXT    NOT NULL,
    min_deposit         TEXT    NOT NULL,
    status              TEXT    NOT NULL,
    graduated           INTEGER NOT NULL DEFAULT 0,
    graduated_at        TEXT,
    outcome             TEXT    NOT NULL DEFAULT '',
    liquidity_threshold TEXT    NOT NULL,
    volume_threshold    TEXT    NOT NULL,
    age_threshold_secs  BIGINT  NOT NULL,
    created_at          TEXT    NOT NULL,
    resolved_at         TEXT,
    version             BIGINT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pools (
    market_id   TEXT PRIMARY KEY,
    yes_reserve TEXT   NOT NULL,
    no_reserve  TEXT   NOT NULL,
    lp_shares   TEXT   NOT NULL,
    collateral  TEXT   NOT NULL,
    volume      TEXT   NOT NULL,
    fee_rate    TEXT   NOT NULL,
    trade_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    market_id TEXT NOT NULL,
    account   TEXT NOT NULL,
    yes_shares TEXT NOT NULL,
    no_shares  TEXT NOT NULL,
    yes_cost  TEXT NOT NULL,
    no_cost   TEXT NOT NULL,
    lp_shares TEXT NOT NULL,
    lp_cost   TEXT NOT NULL,
    PRIMARY KEY (market_id, account)
);

CREATE TABLE IF NOT EXISTS proposals (
    id               TEXT PRIMARY KEY,
    market_id        TEXT NOT NULL,
    proposer         TEXT NOT NULL,
    outcome          TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    evidence         TEXT NOT NULL DEFAULT '',
    deposit          TEXT NOT NULL,
    submitted_at     TEXT NOT NULL,
    dispute_deadline TEXT NOT NULL,
    status           TEXT NOT NULL,
    challenger       TEXT NOT NULL DEFAULT '',
    counter_deposit  TEXT NOT NULL DEFAULT '0',
    disputed_at      TEXT,
    resolved_at      TEXT
);

CREATE TABLE IF NOT EXISTS balances (
    account TEXT PRIMARY KEY,
    amount  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id        TEXT PRIMARY KEY,
    market_id TEXT NOT NULL,
    account   TEXT NOT NULL,
    side      TEXT NOT NULL,
    action    TEXT NOT NULL,
    shares    TEXT NOT NULL,
    amount    TEXT NOT NULL,
    price     TEXT NOT NULL,
    fee       TEXT NOT NULL,
    traded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_intents (
    id              TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL,
    kind            TEXT NOT NULL,
    outcome         TEXT NOT NULL DEFAULT '',
    proposal_id     TEXT NOT NULL DEFAULT '',
    proposal_status TEXT NOT NULL DEFAULT '',
    deltas          TEXT NOT NULL,
    status          TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    applied_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_markets_seq      ON markets(seq);
CREATE INDEX IF NOT EXISTS idx_proposals_market ON proposals(market_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_trades_market    ON trades(market_id, traded_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_account   ON trades(account, traded_at DESC);
CREATE INDEX IF NOT EXISTS idx_intents_status   ON settlement_intents(status, created_at)
`

const (
	retentionIntents = 30 * 24 * time.Hour // intents aplicadas: 30 días

	// timeLayout es RFC3339 con nanos de ancho fijo: el orden de texto es
	// el orden temporal.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLStore implementa ports.Store sobre database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStorage abre (o crea) la base de datos SQLite en la ruta dada.
func NewSQLiteStorage(path string) (*SQLStore, error) {
	return Open("sqlite", path)
}

// Open abre la base de datos con el driver dado ("sqlite" o "pgx"), aplica
// el schema y limpia datos antiguos.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("storage.Open: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite es single-writer
		db.SetMaxIdleConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.applySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.pruneOld(context.Background())
	return s, nil
}

// applySchema ejecuta cada sentencia por separado: pgx no acepta varias en
// un mismo Exec con protocolo extendido.
func (s *SQLStore) applySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage.Open: apply schema: %w", err)
		}
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// q adapta los placeholders al driver.
func (s *SQLStore) q(query string) string {
	return rebind(s.driver, query)
}

// rebind reescribe `?` como `$1, $2...` para Postgres.
func rebind(driver, query string) string {
	if driver != "pgx" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// pruneOld elimina intents ya aplicadas para mantener la DB ligera.
func (s *SQLStore) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().UTC().Add(-retentionIntents))
	s.db.ExecContext(ctx, s.q(`DELETE FROM settlement_intents WHERE status = 'APPLIED' AND applied_at < ?`), cutoff)
}

// --- helpers de conversión ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
