package tools

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	// Register the pure-Go sqlite driver for the read-only connection.
	_ "modernc.org/sqlite"
)

const defaultSQLMaxRows = 200

// readOnlyQueryRE admits plain SELECTs and WITH-prefixed selects only.
var readOnlyQueryRE = regexp.MustCompile(`(?i)^(select|with)\b`)

func (r *Registry) registerSQLTools() {
	r.register(Definition{
		ToolID:      "sql_query",
		Description: "Run a single read-only SELECT against the conversation database.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":    map[string]any{"type": "string"},
				"max_rows": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"columns":   map[string]any{"type": "array"},
				"rows":      map[string]any{"type": "array"},
				"row_count": map[string]any{"type": "integer"},
				"truncated": map[string]any{"type": "boolean"},
			},
		},
	}, sqlQuery)
}

func sqlQuery(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	query, err := validateReadOnlyQuery(stringArg(input, "query"))
	if err != nil {
		return nil, err
	}
	maxRows := intArg(input, "max_rows", defaultSQLMaxRows)

	// Separate read-only connection so tool queries cannot write and do not
	// contend with the store's single writer.
	db, err := sql.Open("sqlite", "file:"+rt.DBPath+"?mode=ro&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database read-only")
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read columns")
	}

	// Fetch one past the cap to detect truncation.
	var result [][]any
	truncated := false
	for rows.Next() {
		if len(result) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		for i, value := range values {
			if b, ok := value.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration failed")
	}

	if result == nil {
		result = [][]any{}
	}
	return map[string]any{
		"columns":   columns,
		"rows":      result,
		"row_count": len(result),
		"truncated": truncated,
	}, nil
}

// validateReadOnlyQuery strips trailing semicolons and enforces the
// single-SELECT contract.
func validateReadOnlyQuery(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "", errors.New("query is required")
	}
	query = strings.TrimSpace(strings.TrimRight(query, ";"))
	if strings.Contains(query, ";") {
		return "", errors.New("Multiple statements are not allowed.")
	}
	if !readOnlyQueryRE.MatchString(query) {
		return "", errors.New("Only SELECT queries are allowed.")
	}
	return query, nil
}
