package engine

import (
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/numeric"
)

// SelectRow picks the newest complete row. Rows must be ordered newest first.
// When required is empty every field of a row must be present. If no row is
// complete the newest row is returned with lowConfidence set.
func SelectRow(rows []model.Row, required []string) (row model.Row, lowConfidence bool, ok bool) {
	if len(rows) == 0 {
		return nil, false, false
	}
	for _, r := range rows {
		if complete(r, required) {
			return r, false, true
		}
	}
	return rows[0], true, true
}

func complete(row model.Row, required []string) bool {
	if len(required) == 0 {
		for _, v := range row {
			if numeric.IsMissing(v) {
				return false
			}
		}
		return true
	}
	for _, name := range required {
		if numeric.IsMissing(row[name]) {
			return false
		}
	}
	return true
}
