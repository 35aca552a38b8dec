package querier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/sqlviz/pkg/frame"
)

// Postgres runs queries through a pgx pool inside read-only transactions.
type Postgres struct {
	log      *slog.Logger
	cfg      Config
	pool     *pgxpool.Pool
	ownsPool bool
}

func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	cfg.Logger.Info("querier: postgres connected", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Postgres{log: cfg.Logger, cfg: cfg, pool: pool, ownsPool: true}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close the pool.
func NewPostgresFromPool(cfg Config, pool *pgxpool.Pool) (*Postgres, error) {
	cfg.Driver = DriverPostgres
	if cfg.DSN == "" {
		cfg.DSN = pool.Config().ConnString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	return &Postgres{log: cfg.Logger, cfg: cfg, pool: pool}, nil
}

func (p *Postgres) Driver() Driver {
	return DriverPostgres
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Close() error {
	if p.ownsPool {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) Explain(ctx context.Context, sql string) (err error) {
	defer func() { observe(DriverPostgres, err) }()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	return p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, explainSQL(sql))
		if err != nil {
			return err
		}
		rows.Close()
		return rows.Err()
	})
}

func (p *Postgres) Query(ctx context.Context, sql string) (f *frame.Frame, err error) {
	defer func() { observe(DriverPostgres, err) }()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	err = p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer rows.Close()

		typeMap := tx.Conn().TypeMap()
		fields := rows.FieldDescriptions()
		columns := make([]frame.Column, len(fields))
		for i, fd := range fields {
			typeName := fmt.Sprintf("oid:%d", fd.DataTypeOID)
			if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
				typeName = t.Name
			}
			columns[i] = frame.Column{Name: fd.Name, Type: typeName}
		}

		result := [][]any{}
		truncated := false
		for rows.Next() {
			if len(result) >= p.cfg.RowLimit {
				truncated = true
				break
			}
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			for i, v := range values {
				values[i] = normalizePostgresValue(v)
			}
			result = append(result, values)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		f = frame.New(columns, result)
		f.Truncated = truncated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// readOnly runs fn in a read-only transaction on a connection that is
// released on every path.
func (p *Postgres) readOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && rbErr != pgx.ErrTxClosed {
			p.log.Debug("querier: rollback failed", "error", rbErr)
		}
	}()

	return fn(tx)
}

func normalizePostgresValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Interval, pgtype.Time:
		return fmt.Sprintf("%v", val)
	}
	return normalizeValue(v)
}
