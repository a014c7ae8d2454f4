package sandwich

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrBundleNotFound = errors.New("bundle not found")

const schema = `
CREATE TABLE IF NOT EXISTS sandwich_bundle (
    hash        bytea PRIMARY KEY,
    block       bigint NOT NULL,
    first_nonce bigint NOT NULL,
    tx_count    integer NOT NULL,
    sandwiches  jsonb NOT NULL,
    skipped     jsonb NOT NULL,
    body        jsonb NOT NULL,
    inserted_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sandwich_bundle_relay (
    hash        bytea NOT NULL REFERENCES sandwich_bundle (hash) ON DELETE CASCADE,
    relay       text NOT NULL,
    success     boolean NOT NULL,
    error       text,
    duration_ms bigint NOT NULL,
    PRIMARY KEY (hash, relay)
);`

type DBSandwichBundle struct {
	Hash       []byte    `db:"hash"`
	Block      int64     `db:"block"`
	FirstNonce int64     `db:"first_nonce"`
	TxCount    int       `db:"tx_count"`
	Sandwiches []byte    `db:"sandwiches"`
	Skipped    []byte    `db:"skipped"`
	Body       []byte    `db:"body"`
	InsertedAt time.Time `db:"inserted_at"`
}

var insertBundleQuery = `
INSERT INTO sandwich_bundle (hash, block, first_nonce, tx_count, sandwiches, skipped, body)
VALUES (:hash, :block, :first_nonce, :tx_count, :sandwiches, :skipped, :body)
ON CONFLICT (hash) DO NOTHING`

type DBSandwichBundleRelay struct {
	Hash       []byte         `db:"hash"`
	Relay      string         `db:"relay"`
	Success    bool           `db:"success"`
	Error      sql.NullString `db:"error"`
	DurationMs int64          `db:"duration_ms"`
}

var insertBundleRelayQuery = `
INSERT INTO sandwich_bundle_relay (hash, relay, success, error, duration_ms)
VALUES (:hash, :relay, :success, :error, :duration_ms)
ON CONFLICT (hash, relay) DO UPDATE SET success = :success, error = :error, duration_ms = :duration_ms`

var getBundleQuery = `
SELECT hash, block, first_nonce, tx_count, sandwiches, skipped, body, inserted_at
FROM sandwich_bundle
WHERE hash = $1`

var getBundleRelaysQuery = `
SELECT hash, relay, success, error, duration_ms
FROM sandwich_bundle_relay
WHERE hash = $1
ORDER BY relay`

// DBBackend archives submitted bundles in postgres.
type DBBackend struct {
	db *sqlx.DB

	insertBundle      *sqlx.NamedStmt
	insertBundleRelay *sqlx.NamedStmt
	getBundle         *sqlx.Stmt
	getBundleRelays   *sqlx.Stmt
}

func NewDBBackend(postgresDSN string) (*DBBackend, error) {
	db, err := sqlx.Connect("postgres", postgresDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(20)

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	insertBundle, err := db.PrepareNamed(insertBundleQuery)
	if err != nil {
		return nil, err
	}
	insertBundleRelay, err := db.PrepareNamed(insertBundleRelayQuery)
	if err != nil {
		return nil, err
	}
	getBundle, err := db.Preparex(getBundleQuery)
	if err != nil {
		return nil, err
	}
	getBundleRelays, err := db.Preparex(getBundleRelaysQuery)
	if err != nil {
		return nil, err
	}

	return &DBBackend{
		db:                db,
		insertBundle:      insertBundle,
		insertBundleRelay: insertBundleRelay,
		getBundle:         getBundle,
		getBundleRelays:   getBundleRelays,
	}, nil
}

func (b *DBBackend) Close() error {
	return b.db.Close()
}

func (b *DBBackend) ArchiveBundle(ctx context.Context, mega *MegaSandwich, results []RelayResult) error {
	sandwiches, err := json.Marshal(mega.Sandwiches)
	if err != nil {
		return err
	}
	skipped, err := json.Marshal(mega.Skipped)
	if err != nil {
		return err
	}
	body, err := json.Marshal(mega.Bundle)
	if err != nil {
		return err
	}
	hash := mega.Bundle.Hash()

	dbTx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback() //nolint:errcheck

	_, err = dbTx.NamedStmtContext(ctx, b.insertBundle).ExecContext(ctx, DBSandwichBundle{
		Hash:       hash.Bytes(),
		Block:      int64(mega.Bundle.BlockNumber),
		FirstNonce: int64(mega.FirstNonce),
		TxCount:    len(mega.Bundle.Txs),
		Sandwiches: sandwiches,
		Skipped:    skipped,
		Body:       body,
	})
	if err != nil {
		return err
	}

	for _, res := range results {
		row := DBSandwichBundleRelay{
			Hash:       hash.Bytes(),
			Relay:      res.Relay,
			Success:    res.Err == nil,
			DurationMs: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			row.Error = sql.NullString{String: res.Err.Error(), Valid: true}
		}
		if _, err := dbTx.NamedStmtContext(ctx, b.insertBundleRelay).ExecContext(ctx, row); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func (b *DBBackend) GetBundle(ctx context.Context, hash common.Hash) (*DBSandwichBundle, []DBSandwichBundleRelay, error) {
	var bundle DBSandwichBundle
	err := b.getBundle.GetContext(ctx, &bundle, hash.Bytes())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var relays []DBSandwichBundleRelay
	if err := b.getBundleRelays.SelectContext(ctx, &relays, hash.Bytes()); err != nil {
		return nil, nil, err
	}
	return &bundle, relays, nil
}
