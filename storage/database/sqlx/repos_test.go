package sqlxrepos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

func TestUserFilter(t *testing.T) {
	active := true
	tests := []struct {
		name     string
		filter   *user.QueryFilter
		ordering []core.DBOrdering
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "no filter",
			wantSQL: `SELECT id FROM "users" ORDER BY created_at DESC`,
		},
		{
			name:     "search & active",
			filter:   &user.QueryFilter{Search: "jo", IsActive: &active},
			wantSQL:  `SELECT id FROM "users" WHERE (name ILIKE $1 OR username ILIKE $2 OR email ILIKE $3) AND is_active = $4 ORDER BY created_at DESC`,
			wantArgs: []interface{}{"%jo%", "%jo%", "%jo%", true},
		},
		{
			name:     "role prefixes",
			filter:   &user.QueryFilter{Roles: []string{"admin:", "trainer:"}},
			wantSQL:  `SELECT id FROM "users" WHERE (EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE $1) OR EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE $2)) ORDER BY created_at DESC`,
			wantArgs: []interface{}{"admin:%", "trainer:%"},
		},
		{
			name:     "malformed ids & unknown ordering",
			filter:   &user.QueryFilter{IDs: []string{"nope"}},
			ordering: []core.DBOrdering{{Field: "password_hash"}, {Field: "name", Ascending: true}},
			wantSQL:  `SELECT id FROM "users" WHERE (1=0) ORDER BY name ASC, created_at DESC`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := userFilter(psql.Select("id").From(usersTable), tt.filter)
			query = orderBy(query, tt.ordering, userOrderings, "created_at DESC")
			sql, args, err := query.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestBatchFilter(t *testing.T) {
	day := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	query := batchFilter(psql.Select("id").From(batchesTable), &batch.QueryFilter{
		Statuses:  []string{"training", "nesting"},
		TraineeID: "8b4c3e0e-4d1a-4f8e-9a55-0f7e3b1c2d4a",
		ActiveOn:  day,
	})
	sql, args, err := query.ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT id FROM "batches" WHERE status IN ($1,$2) AND id IN (SELECT batch_id FROM "batch_trainees" WHERE trainee_id = $3) AND (start_date <= $4 AND end_date >= $5 AND status NOT IN ($6,$7))`,
		sql)
	assert.Equal(t, []interface{}{
		"training", "nesting", "8b4c3e0e-4d1a-4f8e-9a55-0f7e3b1c2d4a",
		core.Date(day), core.Date(day), "completed", "cancelled",
	}, args)
}

func TestValidUUIDs(t *testing.T) {
	ids := validUUIDs([]string{"8b4c3e0e-4d1a-4f8e-9a55-0f7e3b1c2d4a", "1", ""})
	assert.Equal(t, []string{"8b4c3e0e-4d1a-4f8e-9a55-0f7e3b1c2d4a"}, ids)
}

func TestLimitQueries(t *testing.T) {
	const (
		batchID = "8b4c3e0e-4d1a-4f8e-9a55-0f7e3b1c2d4a"
		quizID  = "0b5f4c57-2d0a-4b8e-8e0f-6d2f9a1c3e7b"
		userID  = "4e1d2c3b-5a69-4788-9a0b-c1d2e3f4a5b6"
	)
	tests := []struct {
		name     string
		query    interface{ ToSql() (string, []interface{}, error) }
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "lock batch",
			query:    lockBatchQuery(batchID),
			wantSQL:  `SELECT capacity FROM "batches" WHERE id = $1 FOR UPDATE`,
			wantArgs: []interface{}{batchID},
		},
		{
			name:     "count enrolled",
			query:    enrolledCountQuery(batchID),
			wantSQL:  `SELECT COUNT(*) FROM "batch_trainees" WHERE batch_id = $1`,
			wantArgs: []interface{}{batchID},
		},
		{
			name:     "lock quiz",
			query:    lockQuizQuery(quizID),
			wantSQL:  `SELECT id FROM "quizzes" WHERE id = $1 FOR UPDATE`,
			wantArgs: []interface{}{quizID},
		},
		{
			name:     "count attempts",
			query:    attemptCountQuery(quizID, userID),
			wantSQL:  `SELECT COUNT(*) FROM "quiz_attempts" WHERE quiz_id = $1 AND user_id = $2`,
			wantArgs: []interface{}{quizID, userID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.query.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
