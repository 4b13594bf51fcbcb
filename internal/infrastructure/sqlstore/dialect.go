package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect selects placeholder style, DDL and upsert syntax.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a STORE_DRIVER value to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(driver)) {
	case MySQL:
		return MySQL, nil
	case Postgres, "postgresql":
		return Postgres, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// Open connects and pings. MySQL DSNs need parseTime=true for batch ETAs.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d, err)
	}
	return db, nil
}

// rebind turns ? placeholders into $1..$n for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	text, ts := "VARCHAR(255)", "DATETIME NULL"
	if d == Postgres {
		text, ts = "TEXT", "TIMESTAMPTZ NULL"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS products (
			sku ` + text + ` PRIMARY KEY,
			version_number INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			reference ` + text + ` PRIMARY KEY,
			sku ` + text + ` NOT NULL,
			purchased_quantity INT NOT NULL,
			eta ` + ts + `,
			position INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS allocations (
			batch_reference ` + text + ` NOT NULL,
			orderid ` + text + ` NOT NULL,
			sku ` + text + ` NOT NULL,
			qty INT NOT NULL,
			position INT NOT NULL,
			PRIMARY KEY (batch_reference, position)
		)`,
		`CREATE TABLE IF NOT EXISTS allocations_view (
			orderid ` + text + ` NOT NULL,
			sku ` + text + ` NOT NULL,
			batchref ` + text + ` NOT NULL,
			PRIMARY KEY (orderid, sku)
		)`,
	}
}

func (d Dialect) upsertView() string {
	if d == Postgres {
		return `INSERT INTO allocations_view (orderid, sku, batchref) VALUES ($1, $2, $3)
			ON CONFLICT (orderid, sku) DO UPDATE SET batchref = EXCLUDED.batchref`
	}
	return `INSERT INTO allocations_view (orderid, sku, batchref) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE batchref = VALUES(batchref)`
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Driver error codes that mean another transaction won the race.
const (
	mysqlDuplicateEntry = 1062
	mysqlLockTimeout    = 1205
	mysqlDeadlock       = 1213

	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// translate maps serialization failures, deadlocks and duplicate keys to
// allocation.ErrConcurrentModification and leaves everything else as is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlLockTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", allocation.ErrConcurrentModification, err)
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %v", allocation.ErrConcurrentModification, err)
		}
	}
	return err
}

// isDuplicateKey reports a unique or primary key violation.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}
