// Package storage provides durable persistence for account statistics
// and trade history across three ranked backends: a networked pooled
// SQL database (postgres), an embedded single-file database (sqlite),
// and a file-backed key-value store (yaml). The Gateway selects among
// them with automatic fallback and an emergency cache for outages.
package storage

import (
	"context"
	"strings"
	"time"

	"emerald_exchange/internal/domain"
)

// Kind identifies a storage backend implementation.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindYAML     Kind = "yaml"
)

// KindFromString parses a configured backend name; unknown names fall
// back to the file-backed store.
func KindFromString(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "mysql":
		return KindPostgres
	case "sqlite", "sqlite3":
		return KindSQLite
	default:
		return KindYAML
	}
}

// rank returns the fallback position; lower ranks are tried first.
func (k Kind) rank() int {
	switch k {
	case KindPostgres:
		return 0
	case KindSQLite:
		return 1
	default:
		return 2
	}
}

// Backend is the capability set every storage implementation provides.
// IncrementConverted is the one correctness-critical operation: it must
// be an atomic upsert, since concurrent trades for different accounts
// arrive at high rate and no update may be lost.
type Backend interface {
	Init(ctx context.Context) error
	Close(ctx context.Context) error

	// AccountStats returns the stats row, or (nil, nil) when absent.
	AccountStats(ctx context.Context, accountID string) (*domain.AccountStats, error)
	SaveAccountStats(ctx context.Context, stats *domain.AccountStats) error
	IncrementConverted(ctx context.Context, accountID, name string, amount int64) error
	TotalConverted(ctx context.Context, accountID string) (int64, error)

	LogTrade(ctx context.Context, record *domain.TradeRecord) error

	// FlushAll persists all in-memory state; used on graceful shutdown.
	FlushAll(ctx context.Context) error

	Available() bool
	Kind() Kind
}

// Options configures the gateway and its backends.
type Options struct {
	Preferred Kind
	DataDir   string

	SQLiteFile string // file name inside DataDir

	PostgresDSN      string
	PostgresPoolSize int
	HealthInterval   time.Duration // degradation-monitor period
}
