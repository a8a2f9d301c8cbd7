package burst

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SwathCount is the number of IW sub-swaths resolved per run.
const SwathCount = 3

// Table is a burst overlap table: one range per sub-swath, in order 1,2,3.
type Table []Range

// WriteTo writes the table as "start end" lines.
func (t Table) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, r := range t {
		c, err := fmt.Fprintf(bw, "%d %d\n", r.Start, r.End)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// WriteFile writes the table to path, replacing any existing file.
func (t Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create burst table %q: %w", path, err)
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write burst table %q: %w", path, err)
	}
	return f.Close()
}

// Tables holds the reference and secondary burst tables of a run.
type Tables struct {
	Reference Table
	Secondary Table
}

// Selection is a directed burst selection: one target azimuth-anchor time
// per sub-swath and a fixed burst count.
type Selection struct {
	Times  [SwathCount]float64
	Length int
}

// ParseSelection parses "t1,t2,t3,length". Whitespace may be used in place
// of commas.
func ParseSelection(s string) (*Selection, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != SwathCount+1 {
		return nil, fmt.Errorf("burst selection needs %d times and a length, got %q", SwathCount, s)
	}

	sel := &Selection{}
	for i := 0; i < SwathCount; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid burst time %q: %w", fields[i], err)
		}
		sel.Times[i] = v
	}

	length, err := strconv.Atoi(fields[SwathCount])
	if err != nil {
		return nil, fmt.Errorf("invalid burst length %q: %w", fields[SwathCount], err)
	}
	if length < 1 {
		return nil, fmt.Errorf("burst length must be at least 1, got %d", length)
	}
	sel.Length = length

	return sel, nil
}

// String formats the selection the way ParseSelection reads it.
func (s *Selection) String() string {
	return fmt.Sprintf("%g,%g,%g,%d", s.Times[0], s.Times[1], s.Times[2], s.Length)
}

// SwathPair is the burst timing of one sub-swath in both acquisitions.
type SwathPair struct {
	Reference Sequence
	Secondary Sequence
}

// ResolveSwaths resolves every sub-swath independently and builds the two
// tables. With a nil selection the automatic mode is used. No table is
// returned unless every sub-swath resolved.
func ResolveSwaths(pairs []SwathPair, sel *Selection, tolerance float64) (*Tables, error) {
	if len(pairs) != SwathCount {
		return nil, fmt.Errorf("expected %d sub-swaths, got %d", SwathCount, len(pairs))
	}

	tables := &Tables{
		Reference: make(Table, 0, SwathCount),
		Secondary: make(Table, 0, SwathCount),
	}

	for i, p := range pairs {
		var (
			ov  Overlap
			err error
		)
		if sel != nil {
			ov, err = ResolveAt(p.Reference, p.Secondary, sel.Times[i], sel.Length, tolerance)
		} else {
			ov, err = Resolve(p.Reference, p.Secondary, tolerance)
		}
		if err != nil {
			return nil, fmt.Errorf("sub-swath %d: %w", i+1, err)
		}
		tables.Reference = append(tables.Reference, ov.Reference)
		tables.Secondary = append(tables.Secondary, ov.Secondary)
	}

	return tables, nil
}
