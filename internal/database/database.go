package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/itstheanurag/codesandbox/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DatabasePingTimeout = 10

const slowQuery = 200 * time.Millisecond

// querier is the part of the pool the judgement store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Database struct {
	Pool *pgxpool.Pool
	conn querier
	log  *zerolog.Logger
}

type queryStartKey struct{}

// queryTracer logs failed and slow statements.
type queryTracer struct {
	log *zerolog.Logger
}

func (qt *queryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	_ pgx.TraceQueryStartData,
) context.Context {
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (qt *queryTracer) TraceQueryEnd(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	start, _ := ctx.Value(queryStartKey{}).(time.Time)
	elapsed := time.Since(start)

	switch {
	case data.Err != nil:
		qt.log.Warn().Err(data.Err).Str("command", data.CommandTag.String()).Msg("query failed")
	case elapsed > slowQuery:
		qt.log.Warn().Dur("elapsed", elapsed).Str("command", data.CommandTag.String()).Msg("slow query")
	}
}

// DSN renders the connection string for conf.
func DSN(conf config.DbConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conf.User, conf.Password),
		Host:     net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Path:     "/" + conf.Name,
		RawQuery: url.Values{"sslmode": {conf.SSLMode}}.Encode(),
	}
	return u.String()
}

func New(conf *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(DSN(conf.Db))

	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "codesandbox"
	pgxPoolConfig.ConnConfig.Tracer = &queryTracer{log: log}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), pgxPoolConfig)

	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection established")

	return &Database{Pool: pool, conn: pool, log: log}, nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("Closing database connection pool")
	if db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}
