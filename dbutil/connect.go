package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ts4z/cyclepot/config"
)

// cloudSQLSettings are read from the environment the way Cloud Run
// deployments expose them.
type cloudSQLSettings struct {
	dbUser                 string
	dbPwd                  string
	dbName                 string
	instanceConnectionName string
	usePrivate             bool
}

func cloudSQLSettingsFromEnv() (*cloudSQLSettings, error) {
	unset := []string{}
	getenv := func(k string) string {
		v := os.Getenv(k)
		if v == "" {
			unset = append(unset, k)
		}
		return v
	}

	s := &cloudSQLSettings{
		dbUser:                 getenv("DB_USER"),                  // e.g. 'cyclepot'
		dbPwd:                  getenv("DB_PASS"),                  // e.g. 'my-db-password'
		dbName:                 getenv("DB_NAME"),                  // e.g. 'cyclepot'
		instanceConnectionName: getenv("INSTANCE_CONNECTION_NAME"), // e.g. 'project:region:instance'
		usePrivate:             os.Getenv("PRIVATE_IP") != "",
	}
	if len(unset) > 0 {
		return nil, fmt.Errorf("cloudsqlconn: unset variables: %v", unset)
	}
	return s, nil
}

func connectWithConnector(ctx context.Context) (*sql.DB, error) {
	env, err := cloudSQLSettingsFromEnv()
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("user=%s password=%s database=%s", env.dbUser, env.dbPwd, env.dbName)
	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	var opts []cloudsqlconn.Option
	if env.usePrivate {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	// Refresh on demand; the scheduler wakes hourly and background
	// refreshes would be throttled between runs.
	opts = append(opts, cloudsqlconn.WithLazyRefresh())
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, err
	}
	pgxConfig.DialFunc = func(ctx context.Context, network, instance string) (net.Conn, error) {
		return d.Dial(ctx, env.instanceConnectionName)
	}
	db, err := sql.Open("pgx", stdlib.RegisterConnConfig(pgxConfig))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return db, nil
}

func connectWithPgx(ctx context.Context) (*sql.DB, error) {
	url := config.DBURL()
	if url == "" {
		return nil, errors.New("database URL is empty (set DB_URL)")
	}
	return sql.Open("pgx", url)
}

var factories = map[string]func(context.Context) (*sql.DB, error){
	"connector": connectWithConnector,
	"pgx":       connectWithPgx,
}

// Connect opens the database selected by config.SQLConnector() and checks
// that it answers.
func Connect(ctx context.Context) (*sql.DB, error) {
	factory, ok := factories[config.SQLConnector()]
	if !ok {
		return nil, fmt.Errorf("unknown sql connector %q", config.SQLConnector())
	}
	slog.Info("connecting to database", "connector", config.SQLConnector())
	db, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}
