package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
)

type (
	// DB keeps every table in memory. Rows are stored by value & copied in and out.
	DB struct {
		user       *table[user.User]
		batch      *table[batch.Batch]
		quiz       *table[quiz.Quiz]
		attempt    *table[quiz.Attempt]
		attendance *table[attendance.Record]
		evaluation *table[evaluation.Evaluation]
	}

	table[T any] struct {
		sync.RWMutex
		rows map[string]T
	}
)

func Open() *DB {
	return &DB{
		user:       newTable[user.User](),
		batch:      newTable[batch.Batch](),
		quiz:       newTable[quiz.Quiz](),
		attempt:    newTable[quiz.Attempt](),
		attendance: newTable[attendance.Record](),
		evaluation: newTable[evaluation.Evaluation](),
	}
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

// all returns the rows in no particular order. The caller holds the lock.
func (t *table[T]) all(keep func(T) bool) []T {
	rows := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		if keep == nil || keep(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func (t *table[T]) deleteIDs(ids []string) int {
	t.Lock()
	defer t.Unlock()
	var count int
	for _, id := range ids {
		if _, ok := t.rows[id]; ok {
			delete(t.rows, id)
			count++
		}
	}
	return count
}

type comparator[T any] func(a, b T) int

// orderBy sorts rows by the orderings, then by `fallback`. Unknown ordering fields are ignored.
func orderBy[T any](rows []T, ordering []core.DBOrdering, fields map[string]comparator[T], fallback ...core.DBOrdering) {
	ordering = append(append([]core.DBOrdering{}, ordering...), fallback...)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ordering {
			cmpFn, ok := fields[ord.Field]
			if !ok {
				continue
			}
			c := cmpFn(rows[i], rows[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFolded(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func containsFolded(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
