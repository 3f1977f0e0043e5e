// ABOUTME: Database schema for the directory, escalations, messages and AI interactions
// ABOUTME: Statements are rendered per dialect; MySQL lacks CREATE INDEX IF NOT EXISTS
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateKeyName is returned when an index already exists
const mysqlDuplicateKeyName = 1061

// schemaStatements uses {key}, {ts}, {real} and {bool} placeholders for dialect types
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id {key} PRIMARY KEY,
		display_name TEXT NOT NULL,
		age_band TEXT,
		interests TEXT,
		anxiety_triggers TEXT,
		communication VARCHAR(32) NOT NULL,
		emergency_contact TEXT,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_supervisors (
		conversation_id {key} NOT NULL,
		supervisor_id {key} NOT NULL,
		created_at {ts} NOT NULL,
		PRIMARY KEY (conversation_id, supervisor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_settings (
		conversation_id {key} PRIMARY KEY,
		mediation {bool} NOT NULL,
		activity_guidance {bool} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id {key} PRIMARY KEY,
		conversation_id {key} NOT NULL,
		trigger_score {real} NOT NULL,
		rationale TEXT NOT NULL,
		summary TEXT,
		signals TEXT NOT NULL,
		context_snapshot TEXT NOT NULL,
		participants TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		channel VARCHAR(32),
		delivered_to TEXT,
		created_at {ts} NOT NULL,
		delivered_at {ts} NULL,
		acknowledged_by TEXT,
		acknowledged_at {ts} NULL
	)`,
	`CREATE INDEX idx_escalations_status ON escalations(status, created_at)`,
	`CREATE INDEX idx_escalations_conversation ON escalations(conversation_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id {key} PRIMARY KEY,
		conversation_id {key} NOT NULL,
		speaker_id {key} NOT NULL,
		text TEXT NOT NULL,
		message_type VARCHAR(32) NOT NULL,
		from_agent {bool} NOT NULL,
		sentiment {real} NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX idx_messages_conversation ON messages(conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ai_interactions (
		id {key} PRIMARY KEY,
		scenario VARCHAR(64) NOT NULL,
		conversation_id {key} NOT NULL,
		target_user_id {key},
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		fallback {bool} NOT NULL,
		error TEXT,
		latency_ms BIGINT NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX idx_ai_interactions_conversation ON ai_interactions(conversation_id, created_at)`,
}

// Tables lists the tables the schema creates
var Tables = []string{"user_profiles", "conversation_supervisors", "conversation_settings", "escalations", "messages", "ai_interactions"}

func (db *DB) renderSchema(stmt string) string {
	r := strings.NewReplacer(
		"{key}", "VARCHAR(255)",
		"{ts}", "DATETIME",
		"{real}", "REAL",
		"{bool}", "INTEGER",
	)
	if db.driver == DriverMySQL {
		r = strings.NewReplacer(
			"{key}", "VARCHAR(255)",
			"{ts}", "DATETIME(6)",
			"{real}", "DOUBLE",
			"{bool}", "BOOLEAN",
		)
	} else {
		stmt = strings.Replace(stmt, "CREATE INDEX ", "CREATE INDEX IF NOT EXISTS ", 1)
	}
	return r.Replace(stmt)
}

// initSchema creates all database tables and indexes
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, db.renderSchema(stmt)); err != nil {
			var me *mysql.MySQLError
			if errors.As(err, &me) && me.Number == mysqlDuplicateKeyName {
				continue
			}
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
