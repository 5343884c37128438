package sim

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source 按区间打开归档事件游标。
type Source interface {
	Open(ctx context.Context, iv Interval) (Cursor, error)
}

// Cursor 按 (dateTime, seq) 顺序返回行，结束时返回 io.EOF。
type Cursor interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// CSVHeader 是归档文件的列顺序。
var CSVHeader = []string{"orderID", "orderActionType", "orderQty", "price", "buySellInd", "dateTime", "messageSequenceNumber"}

// CSVSource 从 CSV 文件读取归档。
type CSVSource struct {
	Path   string
	Layout string
}

// NewCSVSource layout 为空时使用 RFC3339。
func NewCSVSource(path, layout string) *CSVSource {
	if layout == "" {
		layout = time.RFC3339
	}
	return &CSVSource{Path: path, Layout: layout}
}

func (s *CSVSource) Open(ctx context.Context, iv Interval) (Cursor, error) {
	rows, err := ReadCSV(s.Path, s.Layout)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if iv.Contains(r.DateTime) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].before(out[j]) })
	return &sliceCursor{rows: out}, nil
}

// ReadCSV 读取整个归档文件，首行为表头时跳过。
func ReadCSV(path, layout string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]Row, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), CSVHeader[0]) {
			continue
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		row, err := parseRecord(rec, layout)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		if row.Seq == 0 {
			row.Seq = int64(i)
		}
		out = append(out, row)
	}
	return out, nil
}

func parseRecord(rec []string, layout string) (Row, error) {
	if len(rec) < 6 {
		return Row{}, fmt.Errorf("expected at least 6 fields, got %d", len(rec))
	}
	qty, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("orderQty: %w", err)
	}
	px, err := decimal.NewFromString(strings.TrimSpace(rec[3]))
	if err != nil {
		return Row{}, fmt.Errorf("price: %w", err)
	}
	side, err := ParseSide(rec[4])
	if err != nil {
		return Row{}, err
	}
	ts, err := time.ParseInLocation(layout, strings.TrimSpace(rec[5]), time.UTC)
	if err != nil {
		return Row{}, fmt.Errorf("dateTime: %w", err)
	}
	row := Row{
		OrderID:  strings.TrimSpace(rec[0]),
		Action:   ParseAction(rec[1]),
		Qty:      qty,
		Price:    px,
		Side:     side,
		DateTime: ts,
	}
	if len(rec) > 6 && strings.TrimSpace(rec[6]) != "" {
		seq, err := strconv.ParseInt(strings.TrimSpace(rec[6]), 10, 64)
		if err != nil {
			return Row{}, fmt.Errorf("messageSequenceNumber: %w", err)
		}
		row.Seq = seq
	}
	return row, nil
}

// sliceCursor 遍历内存中的行。
type sliceCursor struct {
	rows   []Row
	pos    int
	closed bool
}

// NewSliceCursor 包装已排序的行。
func NewSliceCursor(rows []Row) Cursor { return &sliceCursor{rows: rows} }

func (c *sliceCursor) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if c.closed || c.pos >= len(c.rows) {
		return Row{}, io.EOF
	}
	r := c.rows[c.pos]
	c.pos++
	return r, nil
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}
