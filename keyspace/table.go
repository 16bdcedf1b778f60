// Package keyspace implements the key-space row store: the shared table that
// holds, for every logical table, the next unallocated id and the block size
// reserved per replenishment.
package keyspace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/idbroker/dialect/sql"
)

// Default names of the key-space table and its columns.
const (
	DefaultName            = "ID_TABLE"
	DefaultIDColumn        = "ID_TABLE_ID"
	DefaultTableNameColumn = "TABLE_NAME"
	DefaultNextIDColumn    = "NEXT_ID"
	DefaultQuantityColumn  = "QUANTITY"
)

// Table describes the key-space table. Database is the logical database that
// owns it; brokers use it to pick the connection the statements run on.
type Table struct {
	Database        string `yaml:"database"`
	Name            string `yaml:"name"`
	IDColumn        string `yaml:"id_column"`
	TableNameColumn string `yaml:"table_name_column"`
	NextIDColumn    string `yaml:"next_id_column"`
	QuantityColumn  string `yaml:"quantity_column"`
}

// DefaultTable returns the descriptor of the conventional ID_TABLE.
func DefaultTable() Table {
	return Table{
		Database:        "default",
		Name:            DefaultName,
		IDColumn:        DefaultIDColumn,
		TableNameColumn: DefaultTableNameColumn,
		NextIDColumn:    DefaultNextIDColumn,
		QuantityColumn:  DefaultQuantityColumn,
	}
}

// WithDefaults fills empty names with their defaults.
func (t Table) WithDefaults() Table {
	d := DefaultTable()
	if t.Database == "" {
		t.Database = d.Database
	}
	if t.Name == "" {
		t.Name = d.Name
	}
	if t.IDColumn == "" {
		t.IDColumn = d.IDColumn
	}
	if t.TableNameColumn == "" {
		t.TableNameColumn = d.TableNameColumn
	}
	if t.NextIDColumn == "" {
		t.NextIDColumn = d.NextIDColumn
	}
	if t.QuantityColumn == "" {
		t.QuantityColumn = d.QuantityColumn
	}
	return t
}

// Validate checks that every name is a plain SQL identifier. The table may be
// schema-qualified; columns may not. Names are interpolated into statements,
// so anything else is rejected.
func (t Table) Validate() error {
	var errs []error
	if !sql.IsValidIdentifier(t.Name) {
		errs = append(errs, fmt.Errorf("keyspace: invalid table name %q", t.Name))
	}
	for _, n := range []struct{ what, name string }{
		{"id column", t.IDColumn},
		{"table name column", t.TableNameColumn},
		{"next id column", t.NextIDColumn},
		{"quantity column", t.QuantityColumn},
	} {
		if !sql.IsValidIdentifier(n.name) || strings.Contains(n.name, ".") {
			errs = append(errs, fmt.Errorf("keyspace: invalid %s name %q", n.what, n.name))
		}
	}
	return errors.Join(errs...)
}

// Row is one persisted key-space row.
type Row struct {
	ID        string `db:"id"`
	TableName string `db:"table_name"`
	NextID    int64  `db:"next_id"`
	Quantity  int64  `db:"quantity"`
}
