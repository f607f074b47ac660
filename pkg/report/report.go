// Package report renders the end-of-job cut summary.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

const (
	rule   = "  -----------------------------------------------------------"
	header = "   ID   No.Events    Cut Description                         "
	banner = "  ============="
)

// Report summarizes a finished job.
type Report struct {
	Processor string
	JobID     string
	Runs      int64
	Events    int64
	Skipped   int64
	Stages    []cuts.Stage
	Output    []string
	Duration  time.Duration
}

// Write prints the cut summary in the fixed-width layout.
func Write(w io.Writer, r Report) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "EcmCheckProcessor::end()  %s processed %d events in %d runs \n", r.Processor, r.Events, r.Runs)
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, "  %d events skipped\n", r.Skipped)
	}
	sb.WriteString(banner + "\n")
	sb.WriteString("   Cut Summary \n")
	sb.WriteString(banner + "\n")
	sb.WriteString("   ll+4 Jet    \n")
	sb.WriteString(banner + "\n")
	sb.WriteString("\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(header + "\n")
	sb.WriteString(rule + "\n")
	for _, s := range r.Stages {
		fmt.Fprintf(&sb, "  %3d  %10d  : %s\n", s.ID, s.Count, s.Label)
	}
	sb.WriteString(rule + "\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write report")
	}
	return nil
}

// SheetName is the worksheet holding the cut table.
const SheetName = "Cut Summary"

// WriteXLSX exports the cut table to an Excel workbook.
func WriteXLSX(path string, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return errors.WriteFailed(err, path)
	}

	rows := [][]interface{}{
		{"Processor", r.Processor},
		{"Job", r.JobID},
		{"Runs", r.Runs},
		{"Events", r.Events},
		{"Skipped", r.Skipped},
		{},
		{"ID", "No.Events", "Cut Description"},
	}
	for _, s := range r.Stages {
		rows = append(rows, []interface{}{s.ID, s.Count, s.Label})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.WriteFailed(err, path)
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return errors.WriteFailed(err, path)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.WriteFailed(err, path)
	}
	return nil
}
