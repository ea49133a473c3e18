package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
)

// psql builds postgres queries ($n placeholders).
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func selectRows(ctx context.Context, db sqlx.QueryerContext, dest interface{}, query sq.Sqlizer) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, db, dest, q, args...)
}

func getRow(ctx context.Context, db sqlx.QueryerContext, dest interface{}, query sq.Sqlizer) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, db, dest, q, args...)
}

func execQuery(ctx context.Context, db sqlx.ExecerContext, query sq.Sqlizer) (int, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	cnt, err := res.RowsAffected()
	return int(cnt), err
}

// inTx runs fn in a transaction, rolled back when fn fails.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// trapNoRowsErr maps the "no rows" error to the domain's notFound error.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validUUIDs drops the ids postgres would reject as malformed.
func validUUIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	return valid
}

func orderBy(query sq.SelectBuilder, ordering []core.DBOrdering, columns map[string]string, fallback ...string) sq.SelectBuilder {
	clauses := make([]string, 0, len(ordering)+len(fallback))
	for _, ord := range core.AllowedOrderings(ordering, columns) {
		clauses = append(clauses, ord.String())
	}
	clauses = append(clauses, fallback...)
	if len(clauses) == 0 {
		return query
	}
	return query.OrderBy(clauses...)
}
