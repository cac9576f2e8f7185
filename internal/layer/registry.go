package layer

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"tilesmith/internal/pkg/errors"
)

// DB describes one configured PostgreSQL endpoint.
type DB struct {
	Identifier string
	Host       string
	Port       int
	DBName     string
	User       string
	Password   string
	Timeout    time.Duration
}

// DSN renders the pgx connection string.
func (d DB) DSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, port),
		Path:   "/" + d.DBName,
	}
	q := url.Values{}
	if d.Timeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(d.Timeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Registry hands out connection pools by identifier. A pool opens once
// per run on first use and is shared read-only across workers and
// regions afterwards.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]DB
	pools   map[string]*pgxpool.Pool
	group   singleflight.Group
}

// NewRegistry returns a registry over the configured endpoints.
func NewRegistry(dbs []DB) *Registry {
	configs := make(map[string]DB, len(dbs))
	for _, db := range dbs {
		configs[db.Identifier] = db
	}
	return &Registry{
		configs: configs,
		pools:   make(map[string]*pgxpool.Pool),
	}
}

// Pool returns the pool for the identifier, opening it on first use.
func (r *Registry) Pool(ctx context.Context, identifier string) (*pgxpool.Pool, error) {
	r.mu.RLock()
	pool, ok := r.pools[identifier]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	v, err, _ := r.group.Do(identifier, func() (any, error) {
		r.mu.RLock()
		pool, ok := r.pools[identifier]
		r.mu.RUnlock()
		if ok {
			return pool, nil
		}

		cfg, ok := r.configs[identifier]
		if !ok {
			return nil, errors.Newf(errors.CodeConnection, "no database configured for identifier %q", identifier)
		}

		pool, perr := pgxpool.New(ctx, cfg.DSN())
		if perr != nil {
			return nil, errors.WrapWithCode(perr, errors.CodeConnection, "registry.open", "cannot create connection pool").
				WithField("identifier", identifier)
		}

		r.mu.Lock()
		r.pools[identifier] = pool
		r.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// Close releases every open pool. Called once at the end of a run.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pool := range r.pools {
		pool.Close()
		delete(r.pools, id)
	}
}
