package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"dminbox/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite allows one writer; a single pooled connection avoids
		// SQLITE_BUSY between the engine's concurrent transactions.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true"
		} else if !strings.Contains(params, "parseTime") {
			params += "&parseTime=true"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				external_page_id TEXT NOT NULL UNIQUE,
				api_key TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS contacts (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				external_user_id TEXT NOT NULL,
				username TEXT,
				display_name TEXT,
				avatar_url TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE(account_id, external_user_id),
				FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				unread_count INTEGER NOT NULL DEFAULT 0,
				last_message_at DATETIME,
				last_message_preview TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE(account_id, contact_id),
				FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE,
				FOREIGN KEY(contact_id) REFERENCES contacts(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				external_message_id TEXT,
				direction TEXT NOT NULL,
				content TEXT NOT NULL,
				intent TEXT,
				confidence REAL,
				is_ai_generated INTEGER NOT NULL DEFAULT 0,
				channel_timestamp DATETIME,
				created_at DATETIME NOT NULL,
				UNIQUE(conversation_id, external_message_id),
				FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_account_last ON conversations(account_id, last_message_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id VARCHAR(36) NOT NULL,
				name VARCHAR(255) NOT NULL,
				external_page_id VARCHAR(255) NOT NULL,
				api_key VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_accounts_page (external_page_id),
				UNIQUE KEY uniq_accounts_key (api_key)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS contacts (
				id VARCHAR(36) NOT NULL,
				account_id VARCHAR(36) NOT NULL,
				external_user_id VARCHAR(255) NOT NULL,
				username VARCHAR(255),
				display_name VARCHAR(255),
				avatar_url VARCHAR(500),
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_contacts_account_user (account_id, external_user_id),
				CONSTRAINT fk_contacts_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(36) NOT NULL,
				account_id VARCHAR(36) NOT NULL,
				contact_id VARCHAR(36) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				unread_count INT NOT NULL DEFAULT 0,
				last_message_at DATETIME(6),
				last_message_preview TEXT,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_conversations_account_contact (account_id, contact_id),
				INDEX idx_conversations_account_last (account_id, last_message_at),
				CONSTRAINT fk_conversations_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
				CONSTRAINT fk_conversations_contact FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(36) NOT NULL,
				conversation_id VARCHAR(36) NOT NULL,
				external_message_id VARCHAR(255),
				direction VARCHAR(10) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				intent VARCHAR(50),
				confidence DOUBLE,
				is_ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
				channel_timestamp DATETIME(6),
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_messages_conversation_external (conversation_id, external_message_id),
				INDEX idx_messages_conversation_created (conversation_id, created_at),
				CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
