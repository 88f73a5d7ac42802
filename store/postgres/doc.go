// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, revision-guarded workflow updates,
// advisory lock leader election, embedded SQL migrations.
package postgres
