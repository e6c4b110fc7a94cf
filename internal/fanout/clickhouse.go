package fanout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

// ClickHouseDestination persists every event as a row in a ClickHouse events
// table for offline analytics. Disabled when no DSN is configured.
type ClickHouseDestination struct {
	dsn    string
	logger *zap.Logger
	db     *sql.DB
}

// NewClickHouseDestination constructs the destination. An empty dsn disables it.
func NewClickHouseDestination(dsn string, logger *zap.Logger) *ClickHouseDestination {
	return &ClickHouseDestination{dsn: dsn, logger: logger}
}

func (c *ClickHouseDestination) Name() string  { return "clickhouse" }
func (c *ClickHouseDestination) Enabled() bool { return c.dsn != "" }

// Init connects to ClickHouse and ensures the events table exists.
func (c *ClickHouseDestination) Init(ctx context.Context) error {
	db, err := sql.Open("clickhouse", c.dsn)
	if err != nil {
		return fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS events (
       timestamp   DateTime DEFAULT now(),
       kind        String,
       name        String,
       user_id     String,
       severity    String,
       category    String,
       properties  String
   ) ENGINE=MergeTree() ORDER BY (kind, timestamp)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("clickhouse create table: %w", err)
	}
	c.db = db
	c.logger.Info("Connected to ClickHouse")
	return nil
}

func (c *ClickHouseDestination) insert(ctx context.Context, kind, name, userID, severity, category string, props Properties) error {
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO events (kind, name, user_id, severity, category, properties) VALUES (?, ?, ?, ?, ?, ?)`,
		kind, name, userID, severity, category, string(payload))
	if err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

func (c *ClickHouseDestination) Track(ctx context.Context, event string, props Properties) error {
	return c.insert(ctx, "track", event, stringProp(props, "user_id"), "", "", props)
}

func (c *ClickHouseDestination) Page(ctx context.Context, name string, props Properties) error {
	return c.insert(ctx, "page", name, stringProp(props, "user_id"), "", "", props)
}

// Identify is a no-op: rows already carry the user_id the caller supplies.
func (c *ClickHouseDestination) Identify(context.Context, string, Properties) error { return nil }

func (c *ClickHouseDestination) SetUserProperties(context.Context, Properties) error { return nil }

func (c *ClickHouseDestination) Reset(context.Context) error { return nil }

func (c *ClickHouseDestination) CaptureException(ctx context.Context, err error, meta Properties) error {
	props := make(Properties, len(meta)+1)
	for k, v := range meta {
		props[k] = v
	}
	props["error"] = err.Error()
	return c.insert(ctx, "error", "exception", stringProp(meta, "user_id"),
		stringProp(meta, "severity"), stringProp(meta, "category"), props)
}

func (c *ClickHouseDestination) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func stringProp(props Properties, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
