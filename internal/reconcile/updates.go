package reconcile

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// columnKey addresses one column of one table
type columnKey struct {
	table  string
	column string
}

// PendingUpdates accumulates row-level column corrections across one
// reconciliation wave and flushes them as a minimal set of UPDATE statements:
// one flat update when every pending value for a column is identical, one
// CASE WHEN batched update otherwise. The flat-vs-conditional decision stays
// private to this type.
type PendingUpdates struct {
	updates map[columnKey]map[int64]interface{}
}

// NewPendingUpdates creates an empty accumulator
func NewPendingUpdates() *PendingUpdates {
	return &PendingUpdates{updates: make(map[columnKey]map[int64]interface{})}
}

// Add queues value for (table, column, rowID). A later Add for the same row
// wins, matching last-writer semantics within a wave.
func (p *PendingUpdates) Add(table, column string, rowID int64, value interface{}) {
	key := columnKey{table: table, column: column}
	rows, ok := p.updates[key]
	if !ok {
		rows = make(map[int64]interface{})
		p.updates[key] = rows
	}
	rows[rowID] = value
}

// Drop removes a queued update for one row, used when a safety check (e.g.
// history ordering) vetoes it.
func (p *PendingUpdates) Drop(table, column string, rowID int64) {
	if rows, ok := p.updates[columnKey{table: table, column: column}]; ok {
		delete(rows, rowID)
	}
}

// Get returns the pending value for one row, if any
func (p *PendingUpdates) Get(table, column string, rowID int64) (interface{}, bool) {
	rows, ok := p.updates[columnKey{table: table, column: column}]
	if !ok {
		return nil, false
	}
	v, ok := rows[rowID]
	return v, ok
}

// Empty reports whether nothing is queued
func (p *PendingUpdates) Empty() bool {
	for _, rows := range p.updates {
		if len(rows) > 0 {
			return false
		}
	}
	return true
}

// Reset discards everything queued
func (p *PendingUpdates) Reset() {
	p.updates = make(map[columnKey]map[int64]interface{})
}

// Flush applies every queued update inside the given transaction. Each
// (table, column) group becomes exactly one statement; a failing group is
// logged and skipped so the remaining corrections still land. The content
// saves these corrections decorate are already committed, so losing one
// column beats losing the whole pass.
func (p *PendingUpdates) Flush(tx *gorm.DB, log zerolog.Logger) {
	// Deterministic order keeps the statements reproducible across runs
	keys := make([]columnKey, 0, len(p.updates))
	for key := range p.updates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].column < keys[j].column
	})

	for _, key := range keys {
		rows := p.updates[key]
		if len(rows) == 0 {
			continue
		}
		if err := flushColumn(tx, key, rows); err != nil {
			log.Warn().Err(err).Str("table", key.table).Str("column", key.column).
				Int("rows", len(rows)).Msg("column flush failed, skipping")
		}
	}
}

func flushColumn(tx *gorm.DB, key columnKey, rows map[int64]interface{}) error {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if uniform, value := allSame(rows, ids); uniform {
		return tx.Table(key.table).
			Where("id IN ?", ids).
			Update(key.column, value).Error
	}

	// Per-row values: one conditional statement for the whole column
	var sb strings.Builder
	args := make([]interface{}, 0, len(ids)*2+1)
	sb.WriteString("UPDATE ")
	sb.WriteString(key.table)
	sb.WriteString(" SET ")
	sb.WriteString(key.column)
	sb.WriteString(" = CASE id")
	for _, id := range ids {
		sb.WriteString(" WHEN ? THEN ?")
		args = append(args, id, rows[id])
	}
	sb.WriteString(" END WHERE id IN ?")
	args = append(args, ids)

	return tx.Exec(sb.String(), args...).Error
}

func allSame(rows map[int64]interface{}, ids []int64) (bool, interface{}) {
	first := rows[ids[0]]
	for _, id := range ids[1:] {
		if rows[id] != first {
			return false, nil
		}
	}
	return true, first
}
