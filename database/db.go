package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 10
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

var (
	instance *Datasource
	once     sync.Once
)

// Datasource is the postgres implementation of IDataSource. All tables live in the disburse schema.
type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection returns the process-wide datasource, connecting on first use. A failed attempt is not cached.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		once = sync.Once{}
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens and pings a postgres connection pool. The schema is managed by the migrate command.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logrus.WithError(err).Error("database connection failed")
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// uniqueViolation is the postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
