package extract

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DetectedTable pairs a table with the internal confidence used for
// overall scoring. Confidence never appears in the serialized table.
type DetectedTable struct {
	TableData
	Confidence float64
}

// Structured PDF text carries no recognition uncertainty, so its tables
// get a fixed high confidence.
const structuredTableConfidence = 0.9

// Column anchor tolerance for positioned PDF rows, in points.
const structuredColTol = 12.0

type tableCell struct {
	x    float64
	text string
	conf float64
}

type tableRow struct {
	y     float64
	cells []tableCell
}

// TablesFromRows builds tables from positioned PDF text rows.
func TablesFromRows(rows []PositionedRow) []DetectedTable {
	grid := make([]tableRow, 0, len(rows))
	for _, r := range rows {
		tr := tableRow{y: r.Y, cells: make([]tableCell, 0, len(r.Cells))}
		for _, c := range r.Cells {
			tr.cells = append(tr.cells, tableCell{x: c.X, text: c.Text, conf: structuredTableConfidence})
		}
		grid = append(grid, tr)
	}
	return tablesFromGrid(grid, structuredColTol)
}

// TablesFromWords builds tables from OCR word boxes. Thresholds scale
// with the median word height so the clustering holds across DPIs.
func TablesFromWords(words []Word) []DetectedTable {
	rows, colTol := rowsFromWords(words)
	return tablesFromGrid(rows, colTol)
}

// tablesFromGrid finds runs of at least two consecutive multi-cell rows
// and aligns their cells into columns.
func tablesFromGrid(rows []tableRow, colTol float64) []DetectedTable {
	tables := []DetectedTable{}

	i, n := 0, 0
	for i < len(rows) {
		if len(rows[i].cells) < 2 {
			i++
			continue
		}

		j := i
		for j < len(rows) && len(rows[j].cells) >= 2 {
			j++
		}
		run := rows[i:j]
		i = j

		if len(run) < 2 {
			continue
		}

		n++
		tables = append(tables, buildTable(run, colTol, n))
	}

	return tables
}

func buildTable(run []tableRow, colTol float64, n int) DetectedTable {
	var cols []float64
	for _, r := range run {
		for _, c := range r.cells {
			matched := false
			for _, cx := range cols {
				if math.Abs(c.x-cx) <= colTol {
					matched = true
					break
				}
			}
			if !matched {
				cols = append(cols, c.x)
			}
		}
	}
	sort.Float64s(cols)

	grid := make([][]string, len(run))
	var confSum float64
	var confN int

	for ri, r := range run {
		cells := make([]string, len(cols))
		for _, c := range r.cells {
			ci := nearestColumn(cols, c.x)
			if cells[ci] != "" {
				cells[ci] += " " + c.text
			} else {
				cells[ci] = c.text
			}
			confSum += c.conf
			confN++
		}
		grid[ri] = cells
	}

	headers, rows := splitHeaders(grid)

	t := DetectedTable{
		TableData: TableData{
			ID:      fmt.Sprintf("table_%d", n),
			Rows:    rows,
			Headers: headers,
		},
	}
	if confN > 0 {
		t.Confidence = confSum / float64(confN)
	}
	return t
}

func nearestColumn(cols []float64, x float64) int {
	best := 0
	bestDist := math.Abs(x - cols[0])
	for i := 1; i < len(cols); i++ {
		if d := math.Abs(x - cols[i]); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// splitHeaders treats the first row as headers when it is fully textual
// and the remaining rows carry numeric data.
func splitHeaders(grid [][]string) ([]string, [][]string) {
	if len(grid) < 2 {
		return nil, grid
	}

	for _, cell := range grid[0] {
		if cell == "" || strings.ContainsAny(cell, "0123456789") {
			return nil, grid
		}
	}

	for _, row := range grid[1:] {
		for _, cell := range row {
			if strings.ContainsAny(cell, "0123456789") {
				return grid[0], grid[1:]
			}
		}
	}

	return nil, grid
}

// rowsFromWords clusters OCR word boxes into rows by vertical center,
// then splits each row into cells at wide horizontal gaps.
func rowsFromWords(words []Word) ([]tableRow, float64) {
	if len(words) == 0 {
		return nil, 0
	}

	heights := make([]int, len(words))
	for i, w := range words {
		heights[i] = w.Box.Dy()
	}
	sort.Ints(heights)
	med := float64(heights[len(heights)/2])
	if med <= 0 {
		med = 1
	}

	lineTol := 0.6 * med
	colGap := 2.5 * med
	colTol := med

	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		yi := float64(sorted[i].Box.Min.Y+sorted[i].Box.Max.Y) / 2
		yj := float64(sorted[j].Box.Min.Y+sorted[j].Box.Max.Y) / 2
		if yi != yj {
			return yi < yj
		}
		return sorted[i].Box.Min.X < sorted[j].Box.Min.X
	})

	var lines [][]Word
	var lineY float64
	for _, w := range sorted {
		yc := float64(w.Box.Min.Y+w.Box.Max.Y) / 2
		if len(lines) == 0 || math.Abs(yc-lineY) > lineTol {
			lines = append(lines, []Word{w})
			lineY = yc
			continue
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], w)
	}

	rows := make([]tableRow, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool {
			return line[i].Box.Min.X < line[j].Box.Min.X
		})

		row := tableRow{y: float64(line[0].Box.Min.Y)}
		var texts []string
		var confSum float64
		start, prevEnd := 0.0, math.Inf(-1)

		flush := func() {
			if len(texts) == 0 {
				return
			}
			row.cells = append(row.cells, tableCell{
				x:    start,
				text: strings.Join(texts, " "),
				conf: confSum / float64(len(texts)),
			})
			texts = nil
			confSum = 0
		}

		for _, w := range line {
			if float64(w.Box.Min.X)-prevEnd > colGap {
				flush()
				start = float64(w.Box.Min.X)
			}
			texts = append(texts, w.Text)
			confSum += w.Confidence
			prevEnd = float64(w.Box.Max.X)
		}
		flush()

		rows = append(rows, row)
	}

	return rows, colTol
}
