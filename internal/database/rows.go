package database

import (
	"database/sql"
	"time"
)

type agentJVMRow struct {
	JVM       string    `duckdb:"jvm,pk"`
	AccountID string    `duckdb:"account_id,immutable"`
	AgentID   string    `duckdb:"agent_id,immutable"`
	JVMID     string    `duckdb:"jvm_id,immutable"`
	FirstSeen time.Time `duckdb:"first_seen,immutable"`
	LastSeen  time.Time `duckdb:"last_seen"`
}

type threadMetadataRow struct {
	JVM        string `duckdb:"jvm,pk"`
	ID         string `duckdb:"id,pk"`
	ThreadName string `duckdb:"thread_name"`
	State      string `duckdb:"state"`
	Stack      string `duckdb:"stack"`
}

type threadOccurrenceRow struct {
	JVM        string    `duckdb:"jvm"`
	Timestamp  time.Time `duckdb:"timestamp"`
	MetadataID string    `duckdb:"metadata_id"`
	DumpID     string    `duckdb:"dump_id"`
	Count      int       `duckdb:"count"`
}

type flowMetadataRow struct {
	JVM          string `duckdb:"jvm,pk"`
	ID           string `duckdb:"id,pk"`
	CallerClass  string `duckdb:"caller_class,immutable"`
	CallerMethod string `duckdb:"caller_method,immutable"`
	CalleeClass  string `duckdb:"callee_class,immutable"`
	CalleeMethod string `duckdb:"callee_method,immutable"`
}

type flowOccurrenceRow struct {
	JVM        string    `duckdb:"jvm"`
	Timestamp  time.Time `duckdb:"timestamp"`
	MetadataID string    `duckdb:"metadata_id"`
	DumpID     string    `duckdb:"dump_id"`
	Count      int       `duckdb:"count"`
}

type classMetadataRow struct {
	JVM         string    `duckdb:"jvm,pk"`
	ClassName   string    `duckdb:"class_name,pk"`
	Blacklisted bool      `duckdb:"blacklisted"`
	Signatures  string    `duckdb:"signatures"`
	UpdatedAt   time.Time `duckdb:"updated_at"`
}

type blacklistRow struct {
	AccountID string    `duckdb:"account_id,pk"`
	ClassName string    `duckdb:"class_name,pk"`
	Reason    string    `duckdb:"reason"`
	CreatedAt time.Time `duckdb:"created_at,immutable"`
}

type commandRow struct {
	ID          string       `duckdb:"id,pk"`
	JVM         string       `duckdb:"jvm"`
	Feature     string       `duckdb:"feature"`
	Payload     string       `duckdb:"payload"`
	CreatedAt   time.Time    `duckdb:"created_at"`
	DeliveredAt sql.NullTime `duckdb:"delivered_at"`
}

// summaryRow columns derived from the id are immutable; DuckDB cannot
// update indexed columns in an upsert.
type summaryRow struct {
	ID         string    `duckdb:"id,pk"`
	JVM        string    `duckdb:"jvm,immutable"`
	WindowFrom time.Time `duckdb:"window_from,immutable"`
	WindowTo   time.Time `duckdb:"window_to,immutable"`
	FlowCount  int       `duckdb:"flow_count"`
	Summary    string    `duckdb:"summary"`
	CreatedAt  time.Time `duckdb:"created_at"`
}
