package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/news-pipeline/internal/resilience"
)

// Classify sorts a storage error into StorageTransient (worth a reconnect and
// another try) or StorageFatal (constraint and data errors, surfaced
// immediately). nil maps to the empty taxonomy.
func Classify(err error) resilience.Taxonomy {
	if err == nil {
		return ""
	}

	var tagged *resilience.Error
	if errors.As(err, &tagged) && (tagged.Kind == resilience.StorageTransient || tagged.Kind == resilience.StorageFatal) {
		return tagged.Kind
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return resilience.StorageTransient
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return resilience.StorageTransient
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientStoragePatterns {
		if strings.Contains(msg, p) {
			return resilience.StorageTransient
		}
	}
	if resilience.IsTransient(err) {
		return resilience.StorageTransient
	}
	return resilience.StorageFatal
}

var transientStoragePatterns = []string{
	"closed pool",
	"conn closed",
	"connection refused",
	"failed to connect",
	"database is locked",
	"sqlite_busy",
	"too many clients",
	"unexpected eof",
}

// classifySQLState maps a PostgreSQL SQLSTATE code to a taxonomy.
func classifySQLState(code string) resilience.Taxonomy {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return resilience.StorageTransient
	case strings.HasPrefix(code, "53"): // insufficient resources
		return resilience.StorageTransient
	case code == "57P01", code == "57P02", code == "57P03": // shutdown / cannot connect now
		return resilience.StorageTransient
	case code == "40001", code == "40P01": // serialization failure / deadlock
		return resilience.StorageTransient
	default:
		return resilience.StorageFatal
	}
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == resilience.StorageTransient
}
