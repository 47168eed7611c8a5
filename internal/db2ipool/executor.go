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

// Package db2ipool manages Db2 for i connection pools: an environment
// credentials singleton and a per-bearer-token pool manager, both built on a
// keyed base pool with serialized lazy initialization.
package db2ipool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ibmi-community/db2i-mcp-server/internal/sqlsecurity"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// DefaultFetchSize is the row batch size when a caller does not specify one.
const DefaultFetchSize = 300

// Column describes one result column.
type Column struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// Metadata describes the result shape.
type Metadata struct {
	ColumnCount int      `json:"column_count"`
	Columns     []Column `json:"columns"`
}

// QueryResult is the execution contract shared by every pool path.
type QueryResult struct {
	Success       bool             `json:"success"`
	Data          []map[string]any `json:"data"`
	Metadata      Metadata         `json:"metadata"`
	ExecutionTime float64          `json:"execution_time"`
	SQLRC         int              `json:"sql_rc"`
	SQLState      string           `json:"sql_state"`
	HasResults    bool             `json:"has_results"`
	UpdateCount   int64            `json:"update_count"`
	IsDone        bool             `json:"is_done"`
}

// Handle is the subset of database/sql shared by *sql.DB and *sql.Conn.
// Callers that need QTEMP-scoped services pin work to a single *sql.Conn.
type Handle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Execute runs one statement on an open handle with the shared execution
// contract. Tool kinds use this for the environment-credentials path where
// the handle belongs to a YAML-declared source.
func Execute(ctx context.Context, h Handle, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	return execute(ctx, h, sqlStr, params, policy, fetchSize)
}

// ExecutePaginated drains the full result from an open handle in fetchSize
// batches.
func ExecutePaginated(ctx context.Context, h Handle, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	return executeWithPagination(ctx, h, sqlStr, params, policy, fetchSize)
}

// ParseStatementOn classifies a statement using an open handle.
func ParseStatementOn(ctx context.Context, db *sql.DB, sqlStr string) (string, error) {
	return parseStatementType(ctx, db, sqlStr)
}

// execute runs one statement on the handle. When policy is non-nil the
// security validator runs on the final SQL first; both the environment and
// the per-token paths funnel through here, so neither can skip the gate.
func execute(ctx context.Context, h Handle, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	if policy != nil {
		if err := sqlsecurity.Validate(ctx, sqlStr, *policy); err != nil {
			return nil, err
		}
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	start := time.Now()
	if !returnsRows(sqlStr) {
		res, err := h.ExecContext(ctx, sqlStr, params...)
		if err != nil {
			return nil, wrapDriverError(err, sqlStr)
		}
		affected, _ := res.RowsAffected()
		return &QueryResult{
			Success:       true,
			Data:          []map[string]any{},
			ExecutionTime: msSince(start),
			UpdateCount:   affected,
			IsDone:        true,
		}, nil
	}

	rows, err := h.QueryContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, wrapDriverError(err, sqlStr)
	}
	defer rows.Close()

	result, err := scanRows(rows, fetchSize)
	if err != nil {
		return nil, wrapDriverError(err, sqlStr)
	}
	result.ExecutionTime = msSince(start)
	return result, nil
}

// executeWithPagination drains the cursor in fetchSize batches and
// concatenates the data.
func executeWithPagination(ctx context.Context, h Handle, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	if policy != nil {
		if err := sqlsecurity.Validate(ctx, sqlStr, *policy); err != nil {
			return nil, err
		}
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	start := time.Now()
	rows, err := h.QueryContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, wrapDriverError(err, sqlStr)
	}
	defer rows.Close()

	var result *QueryResult
	for {
		batch, err := scanRows(rows, fetchSize)
		if err != nil {
			return nil, wrapDriverError(err, sqlStr)
		}
		if result == nil {
			result = batch
		} else {
			result.Data = append(result.Data, batch.Data...)
			result.IsDone = batch.IsDone
		}
		if batch.IsDone {
			break
		}
	}
	result.ExecutionTime = msSince(start)
	return result, nil
}

// scanRows reads up to limit rows from the cursor. IsDone reports whether the
// cursor is exhausted.
func scanRows(rows *sql.Rows, limit int) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	meta := Metadata{ColumnCount: len(cols), Columns: make([]Column, len(cols))}
	for i, name := range cols {
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		meta.Columns[i] = Column{Name: name, Type: colTypes[i].DatabaseTypeName(), Label: name}
	}

	result := &QueryResult{
		Success:    true,
		Data:       []map[string]any{},
		Metadata:   meta,
		HasResults: len(cols) > 0,
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for len(result.Data) < limit {
		if !rows.Next() {
			result.IsDone = true
			return result, rows.Err()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i := range values {
			row[meta.Columns[i].Name] = normalizeValue(values[i])
		}
		result.Data = append(result.Data, row)
	}
	return result, nil
}

// normalizeValue converts driver byte slices to strings for JSON output.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// returnsRows decides the database/sql call shape. Db2 i SELECT, WITH,
// VALUES and catalog CALLs return result sets; everything else is an
// update-count statement.
func returnsRows(sqlStr string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(sqlStr))
	for _, prefix := range []string{"SELECT", "WITH", "VALUES", "CALL", "("} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// healthCheck verifies the handle with a cheap catalog probe.
func healthCheck(ctx context.Context, db *sql.DB) error {
	row := db.QueryRowContext(ctx, "SELECT 1 FROM SYSIBM.SYSDUMMY1")
	var one int
	if err := row.Scan(&one); err != nil {
		return util.NewDatabaseError("health check failed", "SELECT 1 FROM SYSIBM.SYSDUMMY1", err)
	}
	return nil
}

// parseStatementType asks the database to classify a statement through the
// QSYS2.PARSE_STATEMENT service.
func parseStatementType(ctx context.Context, db *sql.DB, sqlStr string) (string, error) {
	const probe = "SELECT SQL_STATEMENT_TYPE FROM TABLE(QSYS2.PARSE_STATEMENT(" +
		"SQL_STATEMENT => ?, NAMING => '*SQL', DECIMAL_POINT => '*PERIOD', " +
		"SQL_STRING_DELIMITER => '*APOSTSQL')) FETCH FIRST 1 ROW ONLY"
	row := db.QueryRowContext(ctx, probe, sqlStr)
	var stmtType string
	if err := row.Scan(&stmtType); err != nil {
		return "", util.NewDatabaseError("PARSE_STATEMENT probe failed", sqlStr, err)
	}
	return strings.ToUpper(strings.TrimSpace(stmtType)), nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// wrapDriverError shapes a driver failure into the shared error envelope,
// extracting the SQLSTATE when the driver message carries one.
func wrapDriverError(err error, sqlStr string) error {
	se := util.NewDatabaseError("SQL execution failed", sqlStr, err)
	if state := extractSQLState(err.Error()); state != "" {
		se.Details["sqlState"] = state
	}
	return se
}

// extractSQLState pulls the five-character SQLSTATE out of a CLI error
// message of the form "... SQLSTATE=42704 ...".
func extractSQLState(msg string) string {
	const marker = "SQLSTATE="
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	state := msg[idx+len(marker):]
	if len(state) < 5 {
		return ""
	}
	state = state[:5]
	for _, r := range state {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
			return ""
		}
	}
	return state
}
