// Package duckdb holds the small layer jvmscope keeps between database/sql
// and DuckDB: opening a database file, a reflection-based table helper
// driven by `duckdb` struct tags, and a SELECT builder.
//
//	type leaseRow struct {
//	    JVM     string `duckdb:"jvm,pk"`
//	    Version int64  `duckdb:"version"`
//	}
//
//	leases := duckdb.NewTable[leaseRow](db, "analysis_locks")
//	err := leases.Upsert(ctx, &leaseRow{JVM: "a/b/c", Version: 1})
//
//	query, args := duckdb.Select("flow_summaries").
//	    Columns("summary").
//	    Eq("jvm", "a/b/c").
//	    Window("window_to", from, to).
//	    OrderBy("window_to").
//	    Build()
package duckdb
