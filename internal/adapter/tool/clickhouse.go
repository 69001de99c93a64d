package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/tracer"
)

// ClickHouseClient talks to ClickHouse over its HTTP interface. Results come
// back as JSONEachRow text, which LLMs consume directly.
type ClickHouseClient struct {
	baseURL  string
	user     string
	password string
	database string
	client   *http.Client
	logger   *slog.Logger
}

// NewClickHouseClient builds a client from config. The caller decides whether
// the config is complete enough to register the database tools.
func NewClickHouseClient(cfg config.ClickHouseConfig, logger *slog.Logger) *ClickHouseClient {
	return &ClickHouseClient{
		baseURL:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		user:     cfg.User,
		password: cfg.Password,
		database: cfg.Database,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Query executes a SQL statement. When readonly is true the server enforces
// readonly=1, rejecting any mutation regardless of the statement text.
func (c *ClickHouseClient) Query(ctx context.Context, query string, readonly bool) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "clickhouse.query")
	defer span.End()

	params := url.Values{}
	params.Set("default_format", "JSONEachRow")
	if c.database != "" {
		params.Set("database", c.database)
	}
	if readonly {
		params.Set("readonly", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/?"+params.Encode(), strings.NewReader(query))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.user != "" {
		req.Header.Set("X-ClickHouse-User", c.user)
		req.Header.Set("X-ClickHouse-Key", c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("clickhouse request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolOutput))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	return string(body), nil
}

// maxToolOutput caps tool output fed back to the model.
const maxToolOutput = 2 * 1024 * 1024 // 2 MB

// quoteIdent wraps a ClickHouse identifier in backticks, doubling any
// embedded backtick so crafted names cannot break out of the quoting.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// --- show_databases ---

// ShowDatabasesTool lists the databases visible to the configured user.
type ShowDatabasesTool struct {
	ch     *ClickHouseClient
	logger *slog.Logger
}

func NewShowDatabasesTool(ch *ClickHouseClient, logger *slog.Logger) *ShowDatabasesTool {
	return &ShowDatabasesTool{ch: ch, logger: logger}
}

func (t *ShowDatabasesTool) Name() string { return "show_databases" }
func (t *ShowDatabasesTool) Description() string {
	return "List all databases available on the ClickHouse server."
}

func (t *ShowDatabasesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func (t *ShowDatabasesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.show_databases", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			return t.ch.Query(ctx, "SHOW DATABASES", true)
		})
}

// --- show_tables ---

type showTablesParams struct {
	Database string `json:"database,omitempty"`
}

// ShowTablesTool lists tables in a database (the configured default when
// none is given).
type ShowTablesTool struct {
	ch     *ClickHouseClient
	logger *slog.Logger
}

func NewShowTablesTool(ch *ClickHouseClient, logger *slog.Logger) *ShowTablesTool {
	return &ShowTablesTool{ch: ch, logger: logger}
}

func (t *ShowTablesTool) Name() string { return "show_tables" }
func (t *ShowTablesTool) Description() string {
	return "List tables in a ClickHouse database. Defaults to the configured database."
}

func (t *ShowTablesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"database": {"type": "string", "description": "Database name (optional)"}
			}
		}`),
	}
}

func (t *ShowTablesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.show_tables", t.logger, params,
		func(ctx context.Context, _ trace.Span, p showTablesParams) (any, error) {
			query := "SHOW TABLES"
			if p.Database != "" {
				query += " FROM " + quoteIdent(p.Database)
			}
			return t.ch.Query(ctx, query, true)
		})
}

// --- describe_table ---

type describeTableParams struct {
	Table string `json:"table"`
}

// DescribeTableTool returns the column definitions of a table.
type DescribeTableTool struct {
	ch     *ClickHouseClient
	logger *slog.Logger
}

func NewDescribeTableTool(ch *ClickHouseClient, logger *slog.Logger) *DescribeTableTool {
	return &DescribeTableTool{ch: ch, logger: logger}
}

func (t *DescribeTableTool) Name() string { return "describe_table" }
func (t *DescribeTableTool) Description() string {
	return "Describe the columns and types of a ClickHouse table."
}

func (t *DescribeTableTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table": {"type": "string", "description": "Table name"}
			},
			"required": ["table"]
		}`),
	}
}

func (t *DescribeTableTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.describe_table", t.logger, params,
		func(ctx context.Context, _ trace.Span, p describeTableParams) (any, error) {
			if strings.TrimSpace(p.Table) == "" {
				return ErrResult("table is required")
			}
			return t.ch.Query(ctx, "DESCRIBE TABLE "+quoteIdent(p.Table), true)
		})
}

// --- run_query ---

type runQueryParams struct {
	Query string `json:"query"`
}

// RunQueryTool executes an arbitrary SELECT. The server-side readonly setting
// is the safety boundary, not client-side SQL inspection.
type RunQueryTool struct {
	ch     *ClickHouseClient
	logger *slog.Logger
}

func NewRunQueryTool(ch *ClickHouseClient, logger *slog.Logger) *RunQueryTool {
	return &RunQueryTool{ch: ch, logger: logger}
}

func (t *RunQueryTool) Name() string { return "run_query" }
func (t *RunQueryTool) Description() string {
	return "Run a read-only SQL query against ClickHouse and return JSONEachRow results."
}

func (t *RunQueryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "SQL query to execute"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *RunQueryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.run_query", t.logger, params,
		func(ctx context.Context, _ trace.Span, p runQueryParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return ErrResult("query is required")
			}
			return t.ch.Query(ctx, p.Query, true)
		})
}

// RegisterClickHouseTools registers the four database tools on the registry.
func RegisterClickHouseTools(r *Registry, ch *ClickHouseClient, logger *slog.Logger) error {
	tools := []domain.Tool{
		NewShowDatabasesTool(ch, logger),
		NewShowTablesTool(ch, logger),
		NewDescribeTableTool(ch, logger),
		NewRunQueryTool(ch, logger),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
