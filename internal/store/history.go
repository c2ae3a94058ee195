package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Version is one entry of the append-only version log.
type Version struct {
	Type      string
	FhirID    string
	VersionID int
	Action    string
	TS        time.Time
	Doc       []byte
}

// HistoryOptions selects the scope of a _history query: instance when both
// Type and ID are set, type level when only Type is, system level when
// neither is.
type HistoryOptions struct {
	Type   string
	ID     string
	Since  *time.Time
	At     *time.Time
	Count  int
	Offset int
}

// History lists version log entries newest first.
func (s *Store) History(ctx context.Context, opts HistoryOptions) ([]Version, int, error) {
	where := "TRUE"
	args := []any{}
	n := 0
	add := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if opts.Type != "" {
		where += " AND resource_type = " + add(opts.Type)
	}
	if opts.ID != "" {
		where += " AND fhir_id = " + add(opts.ID)
	}
	if opts.Since != nil {
		where += " AND ts >= " + add(*opts.Since)
	}
	if opts.At != nil {
		where += " AND ts <= " + add(*opts.At)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM resource_history WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	sql := "SELECT resource_type, fhir_id, version_id, action, resource, ts FROM resource_history WHERE " + where +
		" ORDER BY ts DESC, resource_type, fhir_id, version_id DESC LIMIT " + add(opts.Count) + " OFFSET " + add(opts.Offset)
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.Type, &v.FhirID, &v.VersionID, &v.Action, &v.Doc, &v.TS); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}
