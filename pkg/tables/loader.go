package tables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	_ "github.com/duckdb/duckdb-go/v2"
)

const (
	defaultLoadPoolSize = 4
)

// typeCandidates limits read_csv_auto inference. Dates stay text so values keep the
// file's own formatting, such as dd/mm/yyyy.
const typeCandidates = ", auto_type_candidates=['BOOLEAN', 'BIGINT', 'DOUBLE', 'VARCHAR']"

// DefaultTextColumns are always read as text. Access keys are 44-digit numbers that
// would otherwise be inferred as DOUBLE and lose precision, breaking joins.
var DefaultTextColumns = []string{"CHAVE DE ACESSO"}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Logger      *slog.Logger
	PoolSize    int
	TextColumns []string
}

func (c *LoaderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.PoolSize == 0 {
		c.PoolSize = defaultLoadPoolSize
	}
	if c.TextColumns == nil {
		c.TextColumns = DefaultTextColumns
	}
	return nil
}

// Loader reads CSV files into Tables using an in-memory DuckDB for type inference.
type Loader struct {
	log  *slog.Logger
	cfg  LoaderConfig
	db   *sql.DB
	pool pond.ResultPool[*loadResult]
}

type loadResult struct {
	table   *Table
	message *Message
}

// NewLoader opens the in-memory DuckDB used for parsing.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Loader{
		log:  cfg.Logger,
		cfg:  cfg,
		db:   db,
		pool: pond.NewResultPool[*loadResult](cfg.PoolSize),
	}, nil
}

// Close releases the DuckDB handle and stops the worker pool.
func (l *Loader) Close() error {
	l.pool.StopAndWait()
	return l.db.Close()
}

// Load reads every CSV in dir. Files that are empty, header-less or unreadable are
// skipped with a warning; an error message is added when no valid file remains.
func (l *Loader) Load(ctx context.Context, dir string) (Mapping, []Message, error) {
	names, err := ListCSV(dir)
	if err != nil {
		return Mapping{}, nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	group := l.pool.NewGroupContext(ctx)
	for _, name := range names {
		group.SubmitErr(func() (*loadResult, error) {
			return l.loadFile(ctx, dir, name), nil
		})
	}
	results, err := group.Wait()
	if err != nil {
		return Mapping{}, nil, fmt.Errorf("failed to load tables: %w", err)
	}

	var (
		loaded   []*Table
		messages []Message
	)
	for _, res := range results {
		if res.message != nil {
			messages = append(messages, *res.message)
		}
		if res.table != nil {
			loaded = append(loaded, res.table)
		}
	}

	mapping, err := NewMapping(loaded...)
	if err != nil {
		return Mapping{}, nil, err
	}
	if mapping.Len() == 0 {
		messages = append(messages, Message{LevelError, fmt.Sprintf("Nenhum CSV válido encontrado em '%s'.", dir)})
	}

	l.log.Info("tables: loaded", "dir", dir, "files", len(names), "tables", mapping.Len())
	return mapping, messages, nil
}

func (l *Loader) loadFile(ctx context.Context, dir, name string) *loadResult {
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return warn("Não foi possível ler '%s': %v. Ignorando.", name, err)
	}
	if info.Size() == 0 {
		return warn("'%s' está vazio ou sem cabeçalhos e foi ignorado.", name)
	}

	start := time.Now()
	table, err := l.readCSV(ctx, path, name)
	if err != nil {
		l.log.Debug("tables: failed to read csv", "file", name, "error", err)
		return warn("Não foi possível ler '%s': %v. Ignorando.", name, err)
	}
	if len(table.Columns) == 0 {
		return warn("'%s' não possui colunas e foi ignorado.", name)
	}

	l.log.Debug("tables: read csv", "file", name, "columns", len(table.Columns), "rows", table.Len(), "duration", time.Since(start))
	return &loadResult{table: table}
}

func warn(format string, args ...any) *loadResult {
	return &loadResult{message: &Message{LevelWarning, fmt.Sprintf(format, args...)}}
}

func (l *Loader) readCSV(ctx context.Context, path, name string) (*Table, error) {
	source := fmt.Sprintf("'%s'", strings.ReplaceAll(path, "'", "''"))

	columns, err := l.describe(ctx, source)
	if err != nil {
		return nil, err
	}

	overrides := textOverrides(columns, l.cfg.TextColumns)
	query := fmt.Sprintf("SELECT * FROM read_csv_auto(%s%s%s)", source, typeCandidates, overrides)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var data [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewTable(name, cols, data)
}

// describe returns the inferred column names of a CSV source.
func (l *Loader) describe(ctx context.Context, source string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM read_csv_auto(%s%s)", source, typeCandidates))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var names []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if name, ok := values[0].(string); ok {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

// textOverrides builds the read_csv types argument for the configured text columns present in the file.
func textOverrides(columns, textColumns []string) string {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}

	var parts []string
	for _, c := range textColumns {
		if _, ok := present[c]; ok {
			parts = append(parts, fmt.Sprintf("'%s': 'VARCHAR'", strings.ReplaceAll(c, "'", "''")))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return ", types={" + strings.Join(parts, ", ") + "}"
}

// normalizeValue narrows driver values to string, int64, float64, bool or nil.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, int64, float64, bool:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.DateTime)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case interface{ Float64() float64 }:
		return val.Float64()
	default:
		return fmt.Sprintf("%v", val)
	}
}
