package keyspace

import (
	"context"
	"fmt"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
)

// Schema returns the atlas description of the key-space table: a string row
// id as primary key, a unique table name and the two counters. A
// schema-qualified name places the table in that schema.
func Schema(t Table) *schema.Table {
	t = t.WithDefaults()
	id := schema.NewStringColumn(t.IDColumn, "varchar", schema.StringSize(36))
	name := schema.NewStringColumn(t.TableNameColumn, "varchar", schema.StringSize(255))
	next := schema.NewIntColumn(t.NextIDColumn, "bigint")
	qty := schema.NewIntColumn(t.QuantityColumn, "bigint")
	qualifier, base := sql.SplitQualified(t.Name)
	tbl := schema.NewTable(base).
		AddColumns(id, name, next, qty).
		SetPrimaryKey(schema.NewPrimaryKey(id)).
		AddIndexes(schema.NewUniqueIndex(base + "_" + t.TableNameColumn + "_KEY").AddColumns(name))
	if qualifier != "" {
		tbl.SetSchema(schema.New(qualifier))
	}
	return tbl
}

// CreateStatements plans the DDL that creates the key-space table in the
// given dialect, without a database connection.
func CreateStatements(ctx context.Context, d string, t Table) ([]string, error) {
	var planner migrate.PlanApplier
	switch d {
	case dialect.MySQL:
		planner = mysql.DefaultPlan
	case dialect.Postgres:
		planner = postgres.DefaultPlan
	case dialect.SQLite:
		planner = sqlite.DefaultPlan
	default:
		return nil, fmt.Errorf("keyspace: unsupported dialect %q", d)
	}
	plan, err := planner.PlanChanges(ctx, "create_"+t.WithDefaults().Name, []schema.Change{
		&schema.AddTable{T: Schema(t)},
	})
	if err != nil {
		return nil, fmt.Errorf("keyspace: plan key-space table: %w", err)
	}
	stmts := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}
