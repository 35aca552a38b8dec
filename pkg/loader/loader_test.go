package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlviz/pkg/querier/querytesting"
)

const bookingsSchema = `[
	{"name": "hotel", "type": "STRING", "mode": "REQUIRED"},
	{"name": "lead_time", "type": "INTEGER"},
	{"name": "adr", "type": "FLOAT"},
	{"name": "is_canceled", "type": "BOOLEAN"},
	{"name": "arrival", "type": "DATETIME"}
]`

const bookingsCSV = `hotel,lead_time,adr,is_canceled,arrival
Resort Hotel,342,0,false,2015-07-01 00:00:00
City Hotel,,75.5,true,
City Hotel,13,98.25,0,2015-07-03 12:30:00
`

func newTestLoader(t *testing.T, batchSize int) (*Loader, *pgxpool.Pool) {
	t.Helper()
	dsn := querytesting.PostgresDSN(t)
	pool, err := pgxpool.New(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	l, err := New(Config{Pool: pool, BatchSize: batchSize})
	require.NoError(t, err)
	return l, pool
}

func TestLoader_Postgres_Load(t *testing.T) {
	t.Parallel()
	l, pool := newTestLoader(t, 2)

	fields, err := ParseSchema(strings.NewReader(bookingsSchema))
	require.NoError(t, err)

	n, err := l.Load(t.Context(), Request{Table: "hotel_bookings", CSV: strings.NewReader(bookingsCSV), Fields: fields, Truncate: true})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	var nulls int
	require.NoError(t, pool.QueryRow(t.Context(),
		`SELECT COUNT(*) FROM hotel_bookings WHERE lead_time IS NULL AND arrival IS NULL`).Scan(&nulls))
	require.Equal(t, 1, nulls)

	var adr float32
	var canceled bool
	require.NoError(t, pool.QueryRow(t.Context(),
		`SELECT adr, is_canceled FROM hotel_bookings WHERE lead_time = 13`).Scan(&adr, &canceled))
	require.InDelta(t, 98.25, adr, 1e-4)
	require.False(t, canceled)

	// Truncate replaces the rows instead of appending.
	n, err = l.Load(t.Context(), Request{Table: "hotel_bookings", CSV: strings.NewReader(bookingsCSV), Fields: fields, Truncate: true})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	var total int
	require.NoError(t, pool.QueryRow(t.Context(), `SELECT COUNT(*) FROM hotel_bookings`).Scan(&total))
	require.Equal(t, 3, total)

	// Without truncate rows are appended.
	_, err = l.Load(t.Context(), Request{Table: "hotel_bookings", CSV: strings.NewReader(bookingsCSV), Fields: fields})
	require.NoError(t, err)
	require.NoError(t, pool.QueryRow(t.Context(), `SELECT COUNT(*) FROM hotel_bookings`).Scan(&total))
	require.Equal(t, 6, total)
}

func TestLoader_Postgres_LoadRollsBackOnBadRow(t *testing.T) {
	t.Parallel()
	l, pool := newTestLoader(t, 0)

	fields := []Field{{Name: "hotel", Type: "STRING", Mode: "REQUIRED"}, {Name: "lead_time", Type: "INTEGER"}}
	_, err := l.Load(t.Context(), Request{
		Table:  "bad_rows",
		CSV:    strings.NewReader("hotel,lead_time\nA,1\n,2\n"),
		Fields: fields,
	})
	require.Error(t, err)

	// The CREATE TABLE ran in the same transaction.
	var exists bool
	require.NoError(t, pool.QueryRow(t.Context(), `SELECT to_regclass('bad_rows') IS NOT NULL`).Scan(&exists))
	require.False(t, exists)
}

func TestLoader_Postgres_LoadFilesAndCompare(t *testing.T) {
	t.Parallel()
	l, pool := newTestLoader(t, 0)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bookings.csv")
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(bookingsCSV), 0o644))
	require.NoError(t, os.WriteFile(schemaPath, []byte(bookingsSchema), 0o644))

	_, err := pool.Exec(t.Context(), `CREATE SCHEMA analytics`)
	require.NoError(t, err)

	n, err := l.LoadFiles(t.Context(), "analytics.bookings", csvPath, schemaPath, true)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	cmp, err := l.Compare(t.Context(), "analytics.bookings", f)
	require.NoError(t, err)
	require.True(t, cmp.Match(), cmp.String())
	require.Equal(t, int64(3), cmp.TableRows)
	require.Equal(t, []string{"hotel", "lead_time", "adr", "is_canceled", "arrival"}, cmp.TableColumns)

	cmp, err = l.Compare(t.Context(), "analytics.bookings", strings.NewReader("hotel,stars\nA,5\n"))
	require.NoError(t, err)
	require.False(t, cmp.Match())
	require.Equal(t, []string{"lead_time", "adr", "is_canceled", "arrival"}, cmp.MissingInCSV)
	require.Equal(t, []string{"stars"}, cmp.MissingInTable)
	require.Equal(t, int64(1), cmp.CSVRows)
	require.Contains(t, cmp.String(), "missing in table: stars")
}

func TestLoader_LoadFiles_BadSchema(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`[{"name": "a"}]`), 0o644))

	l := &Loader{}
	_, err := l.LoadFiles(t.Context(), "t", filepath.Join(dir, "missing.csv"), schemaPath, false)
	require.ErrorIs(t, err, ErrSchemaInvalid)
}
