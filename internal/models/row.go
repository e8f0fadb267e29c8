package models

// Row is one logical row as exported from the warehouse or delivered by the
// change feed: column name to value. Values are the JSON-compatible scalar
// types produced by the staging decoder (string, float64, int64, bool, nil).
type Row map[string]any

func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
