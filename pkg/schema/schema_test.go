package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/querier"
)

func TestSchema_Format(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Format(nil))

	got := Format([]Column{
		{Schema: "public", Table: "orders", Name: "id", Type: "integer"},
		{Schema: "public", Table: "orders", Name: "amount", Type: "numeric"},
		{Schema: "public", Table: "users", Name: "name", Type: "text"},
	})
	require.Equal(t, "public.orders: id (integer), amount (numeric)\npublic.users: name (text)", got)
}

func TestSchema_Tables(t *testing.T) {
	t.Parallel()

	tables := Tables([]Column{
		{Schema: "a", Table: "x", Name: "1"},
		{Schema: "a", Table: "x", Name: "2"},
		{Schema: "b", Table: "x", Name: "1"},
	})
	require.Equal(t, []string{"a.x", "b.x"}, tables)
}

func TestSchema_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.Error(t, cfg.Validate())

	_, err := New(Config{})
	require.Error(t, err)
}

func TestSchema_DuckDB_Describe(t *testing.T) {
	t.Parallel()

	q, err := querier.NewDuckDB(t.Context(), querier.Config{Driver: querier.DriverDuckDB})
	require.NoError(t, err)
	defer q.Close()

	catalog, err := New(Config{Querier: q})
	require.NoError(t, err)

	got, err := catalog.Describe(t.Context())
	require.NoError(t, err)
	require.Equal(t, "", got)

	_, err = q.DB().ExecContext(t.Context(), `
		CREATE TABLE sales (region VARCHAR, amount DOUBLE);
		CREATE SCHEMA hr;
		CREATE TABLE hr.staff (id INTEGER, name VARCHAR);
		CREATE VIEW sales_view AS SELECT * FROM sales;
	`)
	require.NoError(t, err)

	got, err = catalog.Describe(t.Context())
	require.NoError(t, err)
	require.Equal(t, "hr.staff: id (INTEGER), name (VARCHAR)\nmain.sales: region (VARCHAR), amount (DOUBLE)", got)
}

type fakeQuerier struct {
	querier.Querier
	driver querier.Driver
	sql    string
	frame  *frame.Frame
	err    error
}

func (f *fakeQuerier) Driver() querier.Driver { return f.driver }

func (f *fakeQuerier) Query(_ context.Context, sql string) (*frame.Frame, error) {
	f.sql = sql
	return f.frame, f.err
}

func TestSchema_ClickHouseQuery(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{
		driver: querier.DriverClickHouse,
		frame: frame.New(
			[]frame.Column{{Name: "database"}, {Name: "table"}, {Name: "name"}, {Name: "type"}},
			[][]any{{"default", "events", "ts", "DateTime"}, {"default", "events", "kind", "String"}},
		),
	}
	catalog, err := New(Config{Querier: q})
	require.NoError(t, err)

	got, err := catalog.Describe(t.Context())
	require.NoError(t, err)
	require.Contains(t, q.sql, "system.columns")
	require.Equal(t, "default.events: ts (DateTime), kind (String)", got)
}

func TestSchema_QueryError(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{driver: querier.DriverPostgres, err: errors.New("connection refused")}
	catalog, err := New(Config{Querier: q})
	require.NoError(t, err)

	_, err = catalog.Describe(t.Context())
	require.ErrorContains(t, err, "connection refused")
	require.Contains(t, q.sql, "information_schema")
}

func TestSchema_UnexpectedShape(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{driver: querier.DriverDuckDB, frame: frame.New([]frame.Column{{Name: "x"}}, nil)}
	catalog, err := New(Config{Querier: q})
	require.NoError(t, err)

	_, err = catalog.Describe(t.Context())
	require.Error(t, err)
}

func TestSchema_Static(t *testing.T) {
	t.Parallel()

	got, err := Static("public.t: a (int)").Describe(t.Context())
	require.NoError(t, err)
	require.Equal(t, "public.t: a (int)", got)
}
