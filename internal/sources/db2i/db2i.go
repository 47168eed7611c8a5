// Copyright 2025 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package db2i provides the Db2 for i source, connecting over the IBM i
// Access ODBC/CLI stack via the go_ibm_db driver.
package db2i

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	yaml "github.com/goccy/go-yaml"
	_ "github.com/ibmdb/go_ibm_db"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
	"go.opentelemetry.io/otel/trace"
)

const SourceKind string = "db2i"

// driverName is the name go_ibm_db registers with database/sql.
const driverName = "go_ibm_db"

var _ sources.SourceConfig = Config{}

func init() {
	if !sources.Register(SourceKind, newConfig) {
		panic(fmt.Sprintf("source kind %q already registered", SourceKind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (sources.SourceConfig, error) {
	actual := Config{
		Name:           name,
		Port:           "8471",
		Database:       "*LOCAL",
		PoolStartSize:  2,
		PoolMaxSize:    10,
		MaxRetries:     5,
		RetryBaseDelay: "500ms",
	}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	return actual, nil
}

type Config struct {
	Name     string `yaml:"name" validate:"required"`
	Kind     string `yaml:"kind" validate:"required"`
	Host     string `yaml:"host" validate:"required"`
	Port     string `yaml:"port"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Database string `yaml:"database"`
	// Secure enables TLS on the database connection.
	Secure bool `yaml:"secure"`
	// IgnoreUnauthorized skips server certificate validation. Development
	// convenience only.
	IgnoreUnauthorized bool   `yaml:"ignoreUnauthorized"`
	ServerCertPath     string `yaml:"serverCertPath"`
	PoolStartSize      int    `yaml:"poolStartSize"`
	PoolMaxSize        int    `yaml:"poolMaxSize"`
	MaxRetries         int    `yaml:"maxRetries"`
	RetryBaseDelay     string `yaml:"retryBaseDelay"`
}

func (c Config) SourceConfigKind() string {
	return SourceKind
}

// ConnString renders the go_ibm_db keyword=value connection string. The
// password never appears in logs; callers must log the redacted form.
func (c Config) ConnString() string {
	parts := []string{
		fmt.Sprintf("HOSTNAME=%s", c.Host),
		fmt.Sprintf("PORT=%s", c.Port),
		fmt.Sprintf("DATABASE=%s", c.Database),
		fmt.Sprintf("UID=%s", c.User),
		fmt.Sprintf("PWD=%s", c.Password),
	}
	if c.Secure {
		parts = append(parts, "Security=SSL")
		if c.ServerCertPath != "" && !c.IgnoreUnauthorized {
			parts = append(parts, fmt.Sprintf("SSLServerCertificate=%s", c.ServerCertPath))
		}
	}
	return strings.Join(parts, ";")
}

func (c Config) Initialize(ctx context.Context, tracer trace.Tracer) (sources.Source, error) {
	retryBaseDelay, err := time.ParseDuration(c.RetryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid retryBaseDelay: %w", err)
	}
	if c.PoolStartSize > c.PoolMaxSize {
		return nil, fmt.Errorf("poolStartSize %d exceeds poolMaxSize %d", c.PoolStartSize, c.PoolMaxSize)
	}

	db, err := initDb2iConnection(ctx, tracer, c, retryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %q: %w", c.Name, err)
	}
	return &Source{Config: c, Db: db}, nil
}

var _ sources.Source = &Source{}

type Source struct {
	Config
	Db *sql.DB
}

func (s *Source) SourceKind() string {
	return SourceKind
}

// Db2iDB exposes the pooled handle to the tool layer.
func (s *Source) Db2iDB() *sql.DB {
	return s.Db
}

func initDb2iConnection(ctx context.Context, tracer trace.Tracer, c Config, baseDelay time.Duration) (*sql.DB, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, SourceKind, c.Name)
	defer span.End()

	logger, err := util.LoggerFromContext(ctx)
	if err == nil {
		logger.DebugContext(ctx, fmt.Sprintf("connecting to Db2 for i host %q as %q", c.Host, c.User))
	}

	connect := func() (*sql.DB, error) {
		db, err := sql.Open(driverName, c.ConnString())
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	db, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.MaxRetries)+1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d retries: %w", c.MaxRetries, err)
	}

	db.SetMaxOpenConns(c.PoolMaxSize)
	db.SetMaxIdleConns(c.PoolStartSize)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
