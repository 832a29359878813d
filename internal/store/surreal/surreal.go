// Package surreal is a store.KV backed by SurrealDB with auto-reconnect support.
package surreal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/chatsync/internal/store"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrade fails under HTTP/2 ALPN negotiation.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const schemaSQL = `
    DEFINE TABLE IF NOT EXISTS kv SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS key ON kv TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON kv TYPE string;
    DEFINE FIELD IF NOT EXISTS updated ON kv TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS kv_key ON kv FIELDS key UNIQUE;
`

// ErrTransactionConflict indicates concurrent writers touched the same record.
var ErrTransactionConflict = errors.New("transaction conflict")

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// KV stores one record per key in the kv table.
type KV struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

var _ store.KV = (*KV)(nil)

// NewKV connects, authenticates, selects the namespace/database, and applies the schema.
func NewKV(ctx context.Context, cfg Config, log *slog.Logger) (*KV, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())
	codec := surrealcbor.New()

	// gorillaws appends /rpc itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	if _, err := surrealdb.Query[any](ctx, db, schemaSQL, nil); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("init schema: %w", err)
	}

	sdkLogger.Info("SurrealDB store ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return &KV{conn: conn, db: db, logger: sdkLogger}, nil
}

type record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (k *KV) Get(ctx context.Context, key string) (string, error) {
	results, err := surrealdb.Query[[]record](ctx, k.db, `
		SELECT key, value FROM type::record("kv", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", store.ErrNotFound
	}
	return (*results)[0].Result[0].Value, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	_, err := surrealdb.Query[any](ctx, k.db, `
		UPSERT type::record("kv", $key) SET
			key = $key,
			value = $value,
			updated = time::now()
	`, map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, wrapQueryError(err))
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	_, err := surrealdb.Query[any](ctx, k.db, `
		DELETE type::record("kv", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, wrapQueryError(err))
	}
	return nil
}

func (k *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	results, err := surrealdb.Query[[]record](ctx, k.db, `
		SELECT key FROM kv WHERE string::starts_with(key, $prefix) ORDER BY key
	`, map[string]any{"prefix": prefix})
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", wrapQueryError(err))
	}
	keys := make([]string, 0)
	if results == nil || len(*results) == 0 {
		return keys, nil
	}
	for _, r := range (*results)[0].Result {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

// Close closes the SurrealDB connection.
func (k *KV) Close() error {
	k.logger.Info("closing SurrealDB connection")
	return k.conn.Close(context.Background())
}

// wipe deletes every record. Tests only.
func (k *KV) wipe(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, k.db, `DELETE kv`, nil)
	return err
}

// wrapQueryError maps known SurrealDB query errors to sentinels.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) && strings.Contains(queryErr.Message, "Transaction conflict") {
		return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
	}
	return err
}
