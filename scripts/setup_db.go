// setup_db creates the tables and seed rows of the configured store.
//
//	go run ./scripts            # store from the environment
//	go run ./scripts <dsn>      # postgres:// or mysql DSN
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	handler "teamboard-backend/api"
	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/logger"
)

func main() {
	cfg := config.GetCached()
	log := logger.New("setup_db", cfg.Environment)
	defer log.Sync()

	dbConfig := handler.DatabaseConfig(cfg)
	if len(os.Args) > 1 {
		dsn := os.Args[1]
		dbConfig.UseLocalDB = false
		dbConfig.MySQLDSN, dbConfig.PostgresDSN = "", ""
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			dbConfig.PostgresDSN = dsn
		} else {
			dbConfig.MySQLDSN = dsn
		}
	}
	log.Info("connecting", "local", dbConfig.UseLocalDB, "dsn", maskPassword(dbConfig.MySQLDSN+dbConfig.PostgresDSN))

	// NewDatabase creates missing tables and seeds statuses and priorities
	store, err := database.NewDatabase(dbConfig)
	if err != nil {
		log.Fatalw("database setup failed", "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false
	for _, table := range database.DefaultTables {
		rows, err := store.Read(ctx, table)
		if err != nil {
			log.Error("failed to read table", "table", table, "error", err)
			failed = true
			continue
		}
		fmt.Printf("%-16s %d records\n", table, len(rows))
	}
	if failed {
		os.Exit(1)
	}
	log.Info("database setup completed")
}

// maskPassword hides the password of a URL or user:pass@ DSN
func maskPassword(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	start := 0
	if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
		start = scheme + 3
	}
	colon := strings.Index(dsn[start:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:start+colon+1] + "****" + dsn[at:]
}
