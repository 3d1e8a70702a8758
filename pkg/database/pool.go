package database

import (
	"sync"
	"time"

	"teamboard-backend/pkg/logger"
)

// DatabasePool keeps one Store per process
type DatabasePool struct {
	instance Store
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase returns the shared Store, creating it on first use and
// recreating it when the configuration changes or the health check fails.
func GetDatabase(config DatabaseConfig) (Store, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	log := logger.Default().Named("database")

	if globalPool != nil && !shouldRecreateConnection(globalPool, config) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	if globalPool != nil && globalPool.instance != nil {
		if err := globalPool.instance.Close(); err != nil {
			log.Warn("failed to close previous database", "error", err)
		}
	}

	log.Info("creating database connection")
	instance, err := NewDatabase(config)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

func shouldRecreateConnection(pool *DatabasePool, newConfig DatabaseConfig) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	log := logger.Default().Named("database")
	if pool.config != newConfig {
		log.Info("database configuration changed, recreating connection")
		return true
	}

	if err := pool.instance.HealthCheck(); err != nil {
		log.Warn("database health check failed, recreating", "error", err)
		return true
	}
	return false
}

// ResetPool closes and forgets the shared Store
func ResetPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}
	globalPool = nil
}

// GetConnectionStats describes the shared Store for the health endpoint
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	backend := "json"
	switch {
	case globalPool.config.UseLocalDB:
	case globalPool.config.MySQLDSN != "":
		backend = "mysql"
	case globalPool.config.PostgresDSN != "":
		backend = "postgres"
	}

	return map[string]interface{}{
		"status":    "connected",
		"backend":   backend,
		"last_used": lastUsed.Format(time.RFC3339),
		"idle":      time.Since(lastUsed).String(),
	}
}
