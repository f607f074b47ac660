package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	ecmerrors "github.com/ecmcheck/ecmcheck/pkg/errors"
)

func sample() Report {
	return Report{
		Processor: "EcmCheckProcessor",
		JobID:     "job-1",
		Runs:      1,
		Events:    3,
		Stages:    []cuts.Stage{{ID: 0, Label: cuts.NoCuts, Count: 3}},
	}
}

func TestWriteLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample()))

	want := "EcmCheckProcessor::end()  EcmCheckProcessor processed 3 events in 1 runs \n" +
		"  =============\n" +
		"   Cut Summary \n" +
		"  =============\n" +
		"   ll+4 Jet    \n" +
		"  =============\n" +
		"\n" +
		"  -----------------------------------------------------------\n" +
		"   ID   No.Events    Cut Description                         \n" +
		"  -----------------------------------------------------------\n" +
		"    0           3  : No Cuts\n" +
		"  -----------------------------------------------------------\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteSkippedLine(t *testing.T) {
	r := sample()
	r.Skipped = 2

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, r))
	assert.Contains(t, buf.String(), "  2 events skipped\n")
}

func TestWriteEmptyTable(t *testing.T) {
	r := sample()
	r.Stages = nil
	r.Events = 0

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, r))
	assert.Contains(t, buf.String(), "processed 0 events in 1 runs")
	assert.NotContains(t, buf.String(), ": ")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestWriteReturnsOutputFailure(t *testing.T) {
	err := Write(failingWriter{}, sample())
	assert.True(t, ecmerrors.IsCode(err, ecmerrors.CodeWriteFailed))
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cuts.xlsx")
	require.NoError(t, WriteXLSX(path, sample()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, []string{"ID", "No.Events", "Cut Description"}, rows[6])
	assert.Equal(t, []string{"0", "3", cuts.NoCuts}, rows[7])
}
