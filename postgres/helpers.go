package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/hearth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// wrapDatabaseError converts database errors to domain errors.
//
// Mappings:
//   - pgx.ErrNoRows -> ENOTFOUND
//   - unique_violation (23505) -> ECONFLICT
//   - not_null_violation (23502), check_violation (23514) -> EINVALID
//   - Other errors -> EINTERNAL
func wrapDatabaseError(err error, notFoundMsg, internalMsg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return hearth.NotFound("%s", notFoundMsg)
	}

	if isUniqueViolation(err) {
		return hearth.Conflict("Asset key already recorded")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return hearth.Invalid("Required field is missing")
		case "23514": // check_violation
			return hearth.Invalid("Value violates constraint")
		}
	}

	return hearth.Internal(internalMsg, err)
}

// isUniqueViolation checks if an error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// findAssetsQuery builds the SELECT for filter with positional arguments.
func findAssetsQuery(filter hearth.AssetFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerKind != nil {
		args = append(args, string(*filter.OwnerKind))
		where = append(where, fmt.Sprintf("owner_kind = $%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Stage != nil {
		args = append(args, string(*filter.Stage))
		where = append(where, fmt.Sprintf("stage = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + assetColumns + " FROM media_assets")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
