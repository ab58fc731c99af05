package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// sqliteTimeLayout is fixed-width so stored values compare lexicographically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse time %q", s)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalList encodes a slice as a JSON array, never null.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal list")
	}
	return string(b), nil
}

func unmarshalList[T any](data string) ([]T, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal list")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}
