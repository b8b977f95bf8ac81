package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// InsertStyle selects how a multi-row INSERT is rendered
type InsertStyle int

const (
	// InsertValues renders INSERT INTO t (cols) VALUES (...), (...)
	InsertValues InsertStyle = iota
	// InsertSelectUnion renders INSERT INTO t (cols) SELECT ... UNION ALL SELECT ...
	// for warehouses that reject function calls inside VALUES.
	InsertSelectUnion
)

// Dialect captures the SQL differences between supported warehouses
type Dialect struct {
	Name string
	// Driver is the database/sql driver name, empty for non-sql backends
	Driver string
	// JSONFunc wraps a quoted JSON string literal, %s is the literal
	JSONFunc string
	// Escapes rewrites string contents before quoting
	Escapes *strings.Replacer
	// TruncateFormat renders the truncate statement, %s is the table
	TruncateFormat string
	Insert         InsertStyle
	True, False    string
}

var (
	// Snowflake treats backslash as an escape inside string literals, so
	// it is doubled along with the quote.
	Snowflake = &Dialect{
		Name:           "snowflake",
		Driver:         "snowflake",
		JSONFunc:       "PARSE_JSON(%s)",
		Escapes:        strings.NewReplacer(`\`, `\\`, `'`, `''`),
		TruncateFormat: "TRUNCATE TABLE %s",
		Insert:         InsertSelectUnion,
		True:           "TRUE",
		False:          "FALSE",
	}

	// Postgres uses standard conforming strings
	Postgres = &Dialect{
		Name:           "postgres",
		Driver:         "pgx",
		JSONFunc:       "%s::jsonb",
		Escapes:        strings.NewReplacer(`'`, `''`),
		TruncateFormat: "TRUNCATE TABLE %s",
		Insert:         InsertValues,
		True:           "TRUE",
		False:          "FALSE",
	}

	// MySQL escapes backslashes by default
	MySQL = &Dialect{
		Name:           "mysql",
		Driver:         "mysql",
		JSONFunc:       "CAST(%s AS JSON)",
		Escapes:        strings.NewReplacer(`\`, `\\`, `'`, `''`),
		TruncateFormat: "TRUNCATE TABLE %s",
		Insert:         InsertValues,
		True:           "TRUE",
		False:          "FALSE",
	}

	// SQLite has no TRUNCATE
	SQLite = &Dialect{
		Name:           "sqlite",
		Driver:         "sqlite",
		JSONFunc:       "json(%s)",
		Escapes:        strings.NewReplacer(`'`, `''`),
		TruncateFormat: "DELETE FROM %s",
		Insert:         InsertValues,
		True:           "1",
		False:          "0",
	}

	// BigQuery string literals cannot hold raw newlines or doubled quotes
	BigQuery = &Dialect{
		Name:           "bigquery",
		JSONFunc:       "PARSE_JSON(%s)",
		Escapes:        strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`),
		TruncateFormat: "TRUNCATE TABLE %s",
		Insert:         InsertValues,
		True:           "TRUE",
		False:          "FALSE",
	}
)

var dialects = map[string]*Dialect{
	"snowflake": Snowflake,
	"postgres":  Postgres,
	"mysql":     MySQL,
	"sqlite":    SQLite,
	"bigquery":  BigQuery,
}

// DialectFor returns the dialect registered under name
func DialectFor(name string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported warehouse driver %q", name)
	}
	return d, nil
}

// Drivers lists the supported warehouse drivers
func Drivers() []string {
	return []string{"snowflake", "postgres", "mysql", "sqlite", "bigquery"}
}

// QuoteString escapes s and wraps it in single quotes
func (d *Dialect) QuoteString(s string) string {
	return "'" + d.Escapes.Replace(s) + "'"
}

// WrapJSON wraps an already quoted literal in the JSON parse expression
func (d *Dialect) WrapJSON(quoted string) string {
	return fmt.Sprintf(d.JSONFunc, quoted)
}

// TruncateSQL renders the statement emptying table
func (d *Dialect) TruncateSQL(table string) string {
	return fmt.Sprintf(d.TruncateFormat, table)
}

// InsertSQL renders one bulk insert for pre-rendered rows. Every row must
// have len(columns) literals.
func (d *Dialect) InsertSQL(table string, columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") ")

	switch d.Insert {
	case InsertSelectUnion:
		for i, row := range rows {
			if i > 0 {
				b.WriteString(" UNION ALL ")
			}
			b.WriteString("SELECT ")
			b.WriteString(strings.Join(row, ", "))
		}
	default:
		b.WriteString("VALUES ")
		for i, row := range rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			b.WriteString(strings.Join(row, ", "))
			b.WriteByte(')')
		}
	}
	return b.String()
}

var (
	tableIdent  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)
	columnIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
)

// ValidateTable rejects table names that are not plain, optionally
// qualified, identifiers. Identifiers are interpolated into SQL.
func ValidateTable(name string) error {
	if !tableIdent.MatchString(name) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid table name %q", name)
	}
	return nil
}

// ValidateColumn rejects column names that are not plain identifiers
func ValidateColumn(name string) error {
	if !columnIdent.MatchString(name) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", name)
	}
	return nil
}
