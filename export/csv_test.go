package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aep/healthdesk/list"
)

type row map[string]list.Value

func (r row) Key() string { return r["id"].String() }

func (r row) Field(name string) (list.Value, bool) {
	v, ok := r[name]
	return v, ok
}

var columns = []list.Column{
	{Key: "partner", Header: "Partner"},
	{Key: "focusAreas", Header: "Focus Areas"},
	{Key: "year", Header: "Year"},
	{Key: "updatedAt", Header: "Last Updated"},
	{Key: "nope", Header: "Unknown"},
}

func TestExportQuotesEveryCell(t *testing.T) {
	rows := []row{{
		"id":         list.Text("p1"),
		"partner":    list.Text("Health Org"),
		"focusAreas": list.List([]string{"Diabetes", "Hypertension"}),
		"year":       list.Number(2023),
		"updatedAt":  list.Date(time.Date(2024, 3, 5, 17, 30, 0, 0, time.UTC)),
	}}

	out := string(Export(rows, columns))
	assert.Equal(t,
		`"Partner","Focus Areas","Year","Last Updated","Unknown"`+"\r\n"+
			`"Health Org","Diabetes, Hypertension","2023","2024-03-05",""`+"\r\n",
		out)
}

func TestExportRoundTripsThroughCSVReader(t *testing.T) {
	nasty := `Say "hello", world` + "\nsecond line"
	rows := []row{
		{"partner": list.Text(nasty), "year": list.Number(0.5)},
		{"partner": list.Null(), "focusAreas": list.List(nil)},
	}

	r := csv.NewReader(strings.NewReader(string(Export(rows, columns))))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"Partner", "Focus Areas", "Year", "Last Updated", "Unknown"}, records[0])
	assert.Equal(t, nasty, records[1][0])
	assert.Equal(t, "0.5", records[1][2])
	assert.Equal(t, []string{"", "", "", "", ""}, records[2])
}

func TestExportEmptyHasHeaderOnly(t *testing.T) {
	out := Export([]row{}, columns[:1])
	assert.Equal(t, "\"Partner\"\r\n", string(out))
}

func TestFilename(t *testing.T) {
	day := time.Date(2024, 1, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "partner-mappings-2024-01-09.csv", Filename("partner-mappings", day))
}

func TestDirSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	s := DirSaver{Dir: dir}

	require.NoError(t, s.Save(context.Background(), []byte("a\r\n"), MimeCSV, "../ncds-2024-01-09.csv"))

	data, err := os.ReadFile(filepath.Join(dir, "ncds-2024-01-09.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\r\n", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, nil, MimeCSV, "x.csv"), context.Canceled)
}
