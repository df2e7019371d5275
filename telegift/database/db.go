package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	"log/slog"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/logger"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	schemaVersion        = 1 // bump when schema/migrations change
)

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	// Probe reachability before handing the address to the pool, with a few
	// retries so container startup ordering doesn't kill the process.
	var conn net.Conn
	var err error

	tryDial := func() (net.Conn, error) {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
		if c, e := net.DialTimeout("tcp4", addr, defaultConnTimeout); e == nil {
			return c, nil
		}
		return net.DialTimeout("tcp6", addr, defaultConnTimeout)
	}

	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = tryDial()
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	defer conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxLifetime) * time.Second
	}

	return createDB(ctx, poolConfig)
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func createDB(ctx context.Context, poolConfig *pgxpool.Config) (*DB, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	bunDB := newBunDB(pool)
	return &DB{pool: pool, bunDB: bunDB}, nil
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func newBunDB(pool *pgxpool.Pool) *bun.DB {
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pool.Config().ConnConfig.User,
		pool.Config().ConnConfig.Password,
		pool.Config().ConnConfig.Host,
		pool.Config().ConnConfig.Port,
		pool.Config().ConnConfig.Database,
		sslMode,
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (db *DB) ExecWithLog(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	result, err := db.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		logger.LogQuery(sql, duration, err,
			slog.String("operation", "exec"),
			slog.Any("args", args))
		return result, err
	}

	logger.LogQuery(sql, duration, nil,
		slog.String("operation", "exec"),
		slog.Int64("affected_rows", result.RowsAffected()))
	return result, nil
}

func (db *DB) QueryWithLog(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := db.pool.Query(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		logger.LogQuery(sql, duration, err,
			slog.String("operation", "query"),
			slog.Any("args", args))
		return rows, err
	}

	logger.LogQuery(sql, duration, nil, slog.String("operation", "query"))
	return rows, nil
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Ping verifies both database connections are working
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgxpool ping failed: %w", err)
	}
	if err := db.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("bun ping failed: %w", err)
	}
	return nil
}

// InitializeSchema creates all required database tables and indexes
func (db *DB) InitializeSchema(ctx context.Context) error {
	if err := db.ensureAppMeta(ctx); err == nil {
		if v, _ := db.getAppMeta(ctx, "schema_version"); v == fmt.Sprintf("%d", schemaVersion) {
			slog.Info("Schema up-to-date, skipping initialization",
				slog.Int("schema_version", schemaVersion))
			return nil
		}
	}

	tables := []interface{}{
		(*models.Gift)(nil),
		(*models.User)(nil),
		(*models.Action)(nil),
	}

	for _, model := range tables {
		query := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists()

		_, err := query.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_gifts_display_order ON gifts(display_order);",
		"CREATE INDEX IF NOT EXISTS idx_users_gifts_received ON users(gifts_received DESC);",
		"CREATE INDEX IF NOT EXISTS idx_users_photo_refreshed ON users(photo_refreshed_at);",
		"CREATE INDEX IF NOT EXISTS idx_actions_user_kind ON actions(user_id, kind, id DESC);",
		"CREATE INDEX IF NOT EXISTS idx_actions_gift_kind ON actions(gift_id, kind, id DESC);",
		"CREATE INDEX IF NOT EXISTS idx_actions_receiver ON actions(receiver_id) WHERE receiver_id IS NOT NULL;",
		// Claim codes and provider invoice ids identify at most one row each.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_claim_code ON actions(claim_code) WHERE claim_code IS NOT NULL;",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_invoice_ext ON actions(invoice_external_id) WHERE invoice_external_id IS NOT NULL;",
		// Held-inventory listing: purchases still claimable and not yet offered.
		"CREATE INDEX IF NOT EXISTS idx_actions_held ON actions(user_id, id DESC) WHERE kind = 'purchase' AND state = 'held';",
		// Consistency check: claimed units missing their linked records.
		"CREATE INDEX IF NOT EXISTS idx_actions_unlinked ON actions(id) WHERE receiver_id IS NOT NULL AND receive_action_id IS NULL;",
	}

	for _, idx := range indexes {
		if _, err := db.ExecWithLog(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.SeedCatalog(ctx); err != nil {
		return fmt.Errorf("failed to seed gift catalog: %w", err)
	}

	if err := db.ensureAppMeta(ctx); err == nil {
		_ = db.setAppMeta(ctx, "schema_version", fmt.Sprintf("%d", schemaVersion))
	}

	return nil
}

// ensureAppMeta creates the app_meta table if not exists
func (db *DB) ensureAppMeta(ctx context.Context) error {
	_, err := db.ExecWithLog(ctx, `CREATE TABLE IF NOT EXISTS app_meta (key TEXT PRIMARY KEY, value TEXT)`)
	return err
}

func (db *DB) getAppMeta(ctx context.Context, key string) (string, error) {
	row := db.pool.QueryRow(ctx, `SELECT value FROM app_meta WHERE key = $1`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (db *DB) setAppMeta(ctx context.Context, key, value string) error {
	sql := `INSERT INTO app_meta(key, value) VALUES($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := db.pool.Exec(ctx, sql, key, value)
	return err
}

// SeedCatalog inserts the default gift catalog when the table is empty. Gifts
// are never updated or deleted afterwards; only sold_count changes.
func (db *DB) SeedCatalog(ctx context.Context) error {
	var count int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM gifts").Scan(&count); err != nil {
		return fmt.Errorf("failed to count gifts: %w", err)
	}
	if count > 0 {
		slog.Info("Gift catalog already seeded, skipping", slog.Int("gifts", count))
		return nil
	}

	now := time.Now()
	gifts := []*models.Gift{
		{
			DisplayOrder: 1,
			Image:        "delicious-cake",
			Name:         models.LocalizedText{"en": "Delicious Cake", "ru": "Вкусный торт"},
			Price:        decimal.NewFromInt(10),
			Asset:        "USDT",
			TotalSupply:  500,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			DisplayOrder: 2,
			Image:        "green-star",
			Name:         models.LocalizedText{"en": "Green Star", "ru": "Зелёная звезда"},
			Price:        decimal.NewFromInt(5),
			Asset:        "TON",
			TotalSupply:  3000,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			DisplayOrder: 3,
			Image:        "blue-star",
			Name:         models.LocalizedText{"en": "Blue Star", "ru": "Синяя звезда"},
			Price:        decimal.NewFromFloat(0.01),
			Asset:        "ETH",
			TotalSupply:  5000,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			DisplayOrder: 4,
			Image:        "red-star",
			Name:         models.LocalizedText{"en": "Red Star", "ru": "Красная звезда"},
			Price:        decimal.NewFromFloat(0.01),
			Asset:        "ETH",
			TotalSupply:  10000,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	if _, err := db.bunDB.NewInsert().Model(&gifts).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert catalog: %w", err)
	}

	slog.Info("Gift catalog seeded", slog.Int("gifts", len(gifts)))
	return nil
}
