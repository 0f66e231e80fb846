// Package report writes ended-call transcripts to xlsx workbooks and reads them back.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

const (
	transcriptSheet = "Transcript"
	summarySheet    = "Summary"
)

var ErrNotFound = errors.New("transcript not found")

// Transcript is the content of one exported workbook.
type Transcript struct {
	CallID  string                 `json:"call_id"`
	Status  types.CallStatus       `json:"status"`
	Seconds int                    `json:"seconds"`
	Lines   []types.TranscriptLine `json:"lines"`
}

// Writer exports sessions into Dir, one workbook per call.
type Writer struct {
	Dir string
	log *logger.Logger
}

func NewWriter(dir string, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.New()
	}
	return &Writer{Dir: dir, log: log.Component("report").With("dir", dir)}
}

// Path is where the workbook of callID lives.
func (w *Writer) Path(callID string) string {
	return filepath.Join(w.Dir, fileName(callID))
}

// Export writes st as <dir>/<call id>.xlsx, replacing an earlier export of the same call.
func (w *Writer) Export(st session.State) error {
	if st.CallID == "" {
		return fmt.Errorf("export: session has no call id")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("export: create dir: %w", err)
	}
	path := w.Path(st.CallID)
	if err := WriteTranscript(path, st); err != nil {
		return err
	}
	w.log.WithField("path", path).WithField("lines", len(st.Transcript)).Debug("workbook written")
	return nil
}

// Load reads the exported workbook of callID.
func (w *Writer) Load(callID string) (Transcript, error) {
	path := w.Path(callID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return ReadTranscript(path)
}

// WriteTranscript writes the transcript and summary sheets of st to path.
func WriteTranscript(path string, st session.State) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), transcriptSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(transcriptSheet, "A1", &[]interface{}{"id", "who", "text", "at"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, l := range st.Transcript {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(transcriptSheet, cell, &[]interface{}{cellText(l.ID), string(l.Who), cellText(l.Text), l.At}); err != nil {
			return fmt.Errorf("write line %d: %w", i, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"call_id", st.CallID},
		{"status", string(st.Status)},
		{"seconds", st.Seconds},
		{"lines", len(st.Transcript)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// ReadTranscript loads a workbook written by WriteTranscript. Transcript columns are found by
// header name, so reordered columns still load.
func ReadTranscript(path string) (Transcript, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(transcriptSheet)
	if err != nil {
		return Transcript{}, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return Transcript{}, fmt.Errorf("no header row")
	}

	idIdx, whoIdx, textIdx, atIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id":
			idIdx = i
		case "who":
			whoIdx = i
		case "text":
			textIdx = i
		case "at":
			atIdx = i
		}
	}
	if textIdx == -1 {
		return Transcript{}, fmt.Errorf("no text column")
	}

	out := Transcript{Lines: []types.TranscriptLine{}}
	for _, r := range rows[1:] {
		l := types.TranscriptLine{Text: cellAt(r, textIdx), ID: cellAt(r, idIdx), Who: types.Speaker(cellAt(r, whoIdx))}
		l.At, _ = strconv.Atoi(cellAt(r, atIdx))
		out.Lines = append(out.Lines, l)
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		return Transcript{}, fmt.Errorf("read summary: %w", err)
	}
	for _, r := range summary {
		switch cellAt(r, 0) {
		case "call_id":
			out.CallID = cellAt(r, 1)
		case "status":
			out.Status = types.CallStatus(cellAt(r, 1))
		case "seconds":
			out.Seconds, _ = strconv.Atoi(cellAt(r, 1))
		}
	}
	return out, nil
}

func cellAt(r []string, idx int) string {
	if idx >= 0 && idx < len(r) {
		return r[idx]
	}
	return ""
}

// fileName keeps call ids usable as file names; anything outside [A-Za-z0-9._-] becomes '_'.
// Escaped ids get a suffix derived from the raw id, so "a/b" and "a_b" stay apart.
func fileName(callID string) string {
	var b strings.Builder
	escaped := false
	for _, r := range callID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
			escaped = true
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_" + name
		escaped = true
	}
	if escaped {
		name += "-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(callID)).String()[:8]
	}
	return name + ".xlsx"
}

// cellText cuts s to the longest text a worksheet cell accepts.
func cellText(s string) string {
	if utf8.RuneCountInString(s) <= excelize.TotalCellChars {
		return s
	}
	return string([]rune(s)[:excelize.TotalCellChars])
}
