package query

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
	"github.com/ecmcheck/ecmcheck/pkg/lorentz"
	"github.com/ecmcheck/ecmcheck/pkg/writer"
)

func writeOutput(t *testing.T, name string, events int) string {
	t.Helper()
	cfg := writer.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), name)

	s, err := writer.Open(cfg)
	require.NoError(t, err)

	tbl := cuts.New(cuts.DefaultCapacity)
	_, err = tbl.Declare(0, cuts.NoCuts)
	require.NoError(t, err)

	for i := 0; i < events; i++ {
		d := classify.Derived{
			Run:        1,
			Event:      int32(i + 1),
			NParticles: int32(i),
			QuarkPDG:   [2]int32{int32(i%5 + 1), -int32(i%5 + 1)},
			Beam:       lorentz.Beam(500),
		}
		require.NoError(t, s.WriteRow(d))
		require.NoError(t, tbl.Pass(0))
	}
	require.NoError(t, s.WriteHistogram(tbl.Histogram()))
	require.NoError(t, s.Close())
	return cfg.Path
}

func TestQueryEveryFormat(t *testing.T) {
	for _, name := range []string{"out.parquet", "out.arrow", "out.duckdb"} {
		t.Run(name, func(t *testing.T) {
			q, err := Open(writeOutput(t, name, 6), writer.FormatAuto)
			require.NoError(t, err)
			defer q.Close()

			ctx := context.Background()
			n, err := q.Count(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, int64(6), n)

			n, err = q.Count(ctx, "flvq1mc = 1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			res, err := q.Rows(ctx, Select{Columns: []string{"event", "lrzEcm_e"}, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"event", "lrzEcm_e"}, res.Columns)
			require.Len(t, res.Rows, 2)
			assert.EqualValues(t, 1, res.Rows[0][0])
			assert.EqualValues(t, 500, res.Rows[0][1])

			stages, err := q.Cuts(ctx)
			require.NoError(t, err)
			assert.Equal(t, []cuts.Stage{{ID: 0, Label: cuts.NoCuts, Count: 6}}, stages)
		})
	}
}

func TestExportCSV(t *testing.T) {
	q, err := Open(writeOutput(t, "out.parquet", 3), writer.FormatAuto)
	require.NoError(t, err)
	defer q.Close()

	dst := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, q.Export(context.Background(), dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "run,event,nmcp"))
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "none.parquet"), writer.FormatAuto)
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
}

func TestCutsWithoutHistogram(t *testing.T) {
	path := writeOutput(t, "out.parquet", 1)
	require.NoError(t, os.Remove(writer.HistogramPath(path, writer.FormatParquet)))

	q, err := Open(path, writer.FormatAuto)
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Cuts(context.Background())
	assert.Error(t, err)
}
