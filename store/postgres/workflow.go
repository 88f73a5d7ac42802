package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

const workflowColumns = `
	id, definition_name, owner_tag, initial_args, revision, steps,
	created_at, updated_at`

// InsertWorkflow persists a new instance.
func (s *Store) InsertWorkflow(ctx context.Context, inst *workflow.Instance) error {
	args, steps, err := encodeWorkflow(inst)
	if err != nil {
		return fmt.Errorf("conductor/postgres: insert workflow: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID.String(), inst.DefinitionName, inst.OwnerTag, args, inst.Revision, steps,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrWorkflowAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves an instance by ID.
func (s *Store) GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM conductor_workflows WHERE id = $1`,
		wfID.String(),
	)
	inst, err := scanWorkflow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get workflow: %w", err)
	}
	return inst, nil
}

// UpdateWorkflow replaces an instance when the stored revision matches
// inst.Revision, then advances inst.Revision.
func (s *Store) UpdateWorkflow(ctx context.Context, inst *workflow.Instance) error {
	args, steps, err := encodeWorkflow(inst)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update workflow: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_workflows SET
			definition_name = $3, owner_tag = $4, initial_args = $5, steps = $6,
			updated_at = $7, revision = revision + 1
		WHERE id = $1 AND revision = $2`,
		inst.ID.String(), inst.Revision,
		inst.DefinitionName, inst.OwnerTag, args, steps, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetWorkflow(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return conductor.ErrConflict
	}
	inst.Revision++
	return nil
}

// DeleteWorkflows removes the given instances and returns how many existed.
func (s *Store) DeleteWorkflows(ctx context.Context, wfIDs []id.WorkflowID) (int64, error) {
	if len(wfIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conductor_workflows WHERE id = ANY($1)`,
		idStrings(wfIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: delete workflows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListWorkflows returns instances, newest first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	query := `SELECT ` + workflowColumns + ` FROM conductor_workflows WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.OwnerTag != "" {
		query += fmt.Sprintf(" AND owner_tag = $%d", argIdx)
		args = append(args, opts.OwnerTag)
		argIdx++
	}
	if opts.DefinitionName != "" {
		query += fmt.Sprintf(" AND definition_name = $%d", argIdx)
		args = append(args, opts.DefinitionName)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

// FindStaleWorkflows returns purge candidates, oldest first.
func (s *Store) FindStaleWorkflows(ctx context.Context, q workflow.StaleQuery) ([]*workflow.Instance, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM conductor_workflows
		WHERE owner_tag = $1
		  AND created_at < $2
		  AND (cardinality($3::text[]) = 0 OR definition_name = ANY($3))
		  AND NOT (id = ANY($4))
		ORDER BY created_at ASC, id ASC`
	args := []any{q.OwnerTag, q.CreatedBefore, q.DefinitionNames, idStrings(q.Exclude)}
	if q.DefinitionNames == nil {
		args[2] = []string{}
	}
	if q.Limit > 0 {
		query += " LIMIT $5"
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: find stale workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

func encodeWorkflow(inst *workflow.Instance) (args, steps []byte, err error) {
	if inst.InitialArgs != nil {
		if args, err = toJSON(inst.InitialArgs); err != nil {
			return nil, nil, fmt.Errorf("encode initial args: %w", err)
		}
	}
	if steps, err = toJSON(inst.Steps); err != nil {
		return nil, nil, fmt.Errorf("encode steps: %w", err)
	}
	return args, steps, nil
}

// scanWorkflow scans a single instance row.
func scanWorkflow(row pgx.Row) (*workflow.Instance, error) {
	var (
		inst        workflow.Instance
		idStr       string
		args, steps []byte
	)
	err := row.Scan(
		&idStr, &inst.DefinitionName, &inst.OwnerTag, &args, &inst.Revision, &steps,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseWorkflowID(idStr)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse workflow id %q: %w", idStr, err)
	}
	inst.ID = parsedID

	if err := fromJSON(args, &inst.InitialArgs); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode initial args: %w", err)
	}
	if err := fromJSON(steps, &inst.Steps); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode steps: %w", err)
	}
	return &inst, nil
}

// collectWorkflows collects all instances from query rows.
func collectWorkflows(rows pgx.Rows) ([]*workflow.Instance, error) {
	var out []*workflow.Instance
	for rows.Next() {
		inst, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan workflow row: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate workflow rows: %w", err)
	}
	return out, nil
}
