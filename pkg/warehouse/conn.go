package warehouse

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// Execer is the part of *sql.DB the loader and sink use. Every call runs
// in autocommit mode, so a successful ExecContext is a commit.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DB is the single warehouse handle shared by one run
type DB struct {
	Execer
	Dialect *Dialect
	close   func() error
}

// NewDB wraps an existing Execer, used by tests and embedders
func NewDB(exec Execer, dialect *Dialect, closeFn func() error) *DB {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &DB{Execer: exec, Dialect: dialect, close: closeFn}
}

// Close releases the underlying connection
func (db *DB) Close() error {
	return db.close()
}

// Open connects to the configured warehouse and verifies the connection
func Open(ctx context.Context, cfg config.DestinationConfig, logger *zap.Logger) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if dialect == BigQuery {
		exec, err := NewBigQueryExecer(ctx, cfg.Project, cfg.Dataset, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to warehouse",
			zap.String("driver", dialect.Name),
			zap.String("project", cfg.Project),
			zap.String("dataset", cfg.Dataset))
		return NewDB(exec, dialect, exec.Close), nil
	}

	sqlDB, err := openSQL(dialect, cfg)
	if err != nil {
		return nil, err
	}

	// One connection per run; statements are strictly sequential.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping warehouse").
			WithDetail("driver", dialect.Name)
	}

	logger.Info("connected to warehouse",
		zap.String("driver", dialect.Name),
		zap.String("database", cfg.Database),
		zap.String("schema", cfg.Schema))
	return NewDB(sqlDB, dialect, sqlDB.Close), nil
}

func openSQL(dialect *Dialect, cfg config.DestinationConfig) (*sql.DB, error) {
	switch dialect {
	case Snowflake:
		dsn, err := gosnowflake.DSN(&gosnowflake.Config{
			Account:      cfg.Account,
			User:         cfg.User,
			Password:     cfg.Password,
			Database:     cfg.Database,
			Schema:       cfg.Schema,
			Warehouse:    cfg.Warehouse,
			Role:         cfg.Role,
			LoginTimeout: cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build Snowflake DSN")
		}
		db, err := sql.Open("snowflake", dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open Snowflake connection")
		}
		return db, nil

	case Postgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = postgresURL(cfg)
		}
		connCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres DSN")
		}
		if cfg.Schema != "" {
			connCfg.RuntimeParams["search_path"] = cfg.Schema
		}
		return stdlib.OpenDB(*connCfg), nil

	case MySQL:
		var mcfg *mysql.Config
		if cfg.DSN != "" {
			parsed, err := mysql.ParseDSN(cfg.DSN)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql DSN")
			}
			mcfg = parsed
		} else {
			mcfg = mysql.NewConfig()
			mcfg.User = cfg.User
			mcfg.Passwd = cfg.Password
			mcfg.Net = "tcp"
			mcfg.Addr = net.JoinHostPort(cfg.Host, portOr(cfg.Port, 3306))
			mcfg.DBName = cfg.Database
			mcfg.Timeout = cfg.ConnectTimeout
		}
		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql config")
		}
		return sql.OpenDB(connector), nil

	case SQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open sqlite database")
		}
		return db, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "driver %s has no sql connector", dialect.Name)
}

func postgresURL(cfg config.DestinationConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, portOr(cfg.Port, 5432)),
		Path:   "/" + cfg.Database,
	}
	if cfg.ConnectTimeout > 0 {
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func portOr(port, def int) string {
	if port == 0 {
		port = def
	}
	return strconv.Itoa(port)
}
