package transform

import (
	"log/slog"

	"github.com/zeebo/xxh3"

	"github.com/JonMunkholm/payrecon/internal/clean"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// minDuplicateKeys is the fewest key columns that make a duplicate check
// meaningful.
const minDuplicateKeys = 2

// highDuplicateRatio triggers a warning that the key columns are probably
// too coarse for the file.
const highDuplicateRatio = 0.8

// FlagDuplicates appends is_potential_duplicate, true for every row that
// shares its key column values with at least one other row. Keys that are
// absent from res (or back-filled) are ignored; with fewer than two usable
// keys every row is false. It returns the number of flagged rows.
func FlagDuplicates(res *Result, keys []string, logger *slog.Logger) int {
	var keyCols []*Column
	for _, k := range keys {
		if c, ok := res.Column(k); ok && !c.Filled {
			keyCols = append(keyCols, c)
		}
	}

	flags := make([]any, res.Rows)
	for i := range flags {
		flags[i] = false
	}
	col := Column{
		Name:    ColDuplicate,
		Type:    schema.TypeBoolean,
		Storage: schema.TypeBoolean.StorageType(),
		Values:  flags,
	}

	if len(keyCols) < minDuplicateKeys {
		setColumn(res, col)
		res.Duplicates = 0
		return 0
	}

	hashes := make([]uint64, res.Rows)
	counts := make(map[uint64]int, res.Rows)
	buf := make([]byte, 0, 128)
	for row := 0; row < res.Rows; row++ {
		buf = buf[:0]
		for _, c := range keyCols {
			buf = appendKey(buf, c.Values[row])
		}
		h := xxh3.Hash(buf)
		hashes[row] = h
		counts[h]++
	}

	flagged := 0
	for row, h := range hashes {
		if counts[h] > 1 {
			flags[row] = true
			flagged++
		}
	}

	setColumn(res, col)
	res.Duplicates = flagged

	if flagged > 0 {
		logger.Info("potential duplicate rows",
			"source", res.Source,
			"file", res.File,
			"flagged", flagged,
			"rows", res.Rows,
		)
	}
	if res.Rows > 0 && float64(flagged)/float64(res.Rows) > highDuplicateRatio {
		logger.Warn("most rows flagged as duplicates, key columns may be too coarse",
			"source", res.Source,
			"file", res.File,
			"keys", keys,
		)
	}
	return flagged
}

// appendKey writes one key value with a type tag so that null, "" and
// "null" hash differently.
func appendKey(buf []byte, v any) []byte {
	if v == nil {
		return append(buf, 0, 0x1f)
	}
	s, _ := clean.Format(v)
	buf = append(buf, 1)
	buf = append(buf, s...)
	return append(buf, 0x1f)
}

// setColumn replaces an existing column of the same name or appends col.
func setColumn(res *Result, col Column) {
	for i := range res.Columns {
		if res.Columns[i].Name == col.Name {
			res.Columns[i] = col
			return
		}
	}
	res.Columns = append(res.Columns, col)
}
