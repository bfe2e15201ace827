package lookup

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
)

type Row struct {
	Concentrations []float64
	Raw            optimizer.Raw
}

// Table holds precomputed solutions. Columns are c0..c{k-1}, fA, fB,
// wA1..wAN, wB1..wBN, with raw (unfinalized) variables.
type Table struct {
	Odorants int
	Channels int
	Rows     []Row
}

func (t *Table) Points() [][]float64 {
	pts := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		pts[i] = r.Concentrations
	}
	return pts
}

func (t *Table) header() []string {
	h := make([]string, 0, t.Odorants+2+2*t.Channels)
	for i := 0; i < t.Odorants; i++ {
		h = append(h, fmt.Sprintf("c%d", i))
	}
	h = append(h, "fA", "fB")
	for i := 1; i <= t.Channels; i++ {
		h = append(h, fmt.Sprintf("wA%d", i))
	}
	for i := 1; i <= t.Channels; i++ {
		h = append(h, fmt.Sprintf("wB%d", i))
	}
	return h
}

func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header()); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, t.Odorants+2+2*t.Channels)
		for _, c := range r.Concentrations {
			rec = append(rec, strconv.FormatFloat(c, 'g', -1, 64))
		}
		rec = append(rec, strconv.FormatFloat(r.Raw.FA, 'g', -1, 64), strconv.FormatFloat(r.Raw.FB, 'g', -1, 64))
		for _, v := range r.Raw.WA {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		for _, v := range r.Raw.WB {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{}
	for _, col := range header {
		switch {
		case strings.HasPrefix(col, "c"):
			t.Odorants++
		case strings.HasPrefix(col, "wA"):
			t.Channels++
		}
	}
	if t.Odorants == 0 || t.Channels == 0 || len(header) != t.Odorants+2+2*t.Channels {
		return nil, fmt.Errorf("unexpected header %v: %w", header, rig.ErrDimensionMismatch)
	}
	if t.Channels > rig.MaxChannels {
		return nil, rig.ErrTooManyChannels
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, len(rec))
		for i, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
			vals[i] = v
		}
		k, n := t.Odorants, t.Channels
		t.Rows = append(t.Rows, Row{
			Concentrations: vals[:k],
			Raw: optimizer.Raw{
				FA: vals[k],
				FB: vals[k+1],
				WA: vals[k+2 : k+2+n],
				WB: vals[k+2+n : k+2+2*n],
			},
		})
	}
	return t, nil
}

func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func (t *Table) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
