package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

// InsertWorkflow persists a new instance.
func (s *Store) InsertWorkflow(ctx context.Context, inst *workflow.Instance) error {
	_, err := s.db.Collection(colWorkflows).InsertOne(ctx, toWorkflowModel(inst))
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrWorkflowAlreadyExists
		}
		return fmt.Errorf("conductor/mongo: insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves an instance by ID.
func (s *Store) GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Instance, error) {
	var m workflowModel
	err := s.db.Collection(colWorkflows).FindOne(ctx, bson.M{"_id": wfID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conductor.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("conductor/mongo: get workflow: %w", err)
	}
	return fromWorkflowModel(&m)
}

// UpdateWorkflow replaces an instance when the stored revision matches
// inst.Revision, then advances inst.Revision.
func (s *Store) UpdateWorkflow(ctx context.Context, inst *workflow.Instance) error {
	m := toWorkflowModel(inst)
	m.Revision = inst.Revision + 1

	res, err := s.db.Collection(colWorkflows).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "revision": inst.Revision},
		m,
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: update workflow: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetWorkflow(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return conductor.ErrConflict
	}
	inst.Revision++
	return nil
}

// DeleteWorkflows removes the given instances and returns how many
// existed.
func (s *Store) DeleteWorkflows(ctx context.Context, wfIDs []id.WorkflowID) (int64, error) {
	if len(wfIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.Collection(colWorkflows).DeleteMany(ctx,
		bson.M{"_id": bson.M{"$in": workflowIDs(wfIDs)}},
	)
	if err != nil {
		return 0, fmt.Errorf("conductor/mongo: delete workflows: %w", err)
	}
	return res.DeletedCount, nil
}

// ListWorkflows returns instances matching the options, newest first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	filter := bson.M{}
	if opts.OwnerTag != "" {
		filter["owner_tag"] = opts.OwnerTag
	}
	if opts.DefinitionName != "" {
		filter["definition_name"] = opts.DefinitionName
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.findWorkflows(ctx, filter, findOpts)
}

// FindStaleWorkflows returns purge candidates, oldest first.
func (s *Store) FindStaleWorkflows(ctx context.Context, q workflow.StaleQuery) ([]*workflow.Instance, error) {
	filter := bson.M{
		"owner_tag":  q.OwnerTag,
		"created_at": bson.M{"$lt": q.CreatedBefore},
	}
	if len(q.DefinitionNames) > 0 {
		filter["definition_name"] = bson.M{"$in": q.DefinitionNames}
	}
	if len(q.Exclude) > 0 {
		filter["_id"] = bson.M{"$nin": workflowIDs(q.Exclude)}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	return s.findWorkflows(ctx, filter, findOpts)
}

func (s *Store) findWorkflows(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*workflow.Instance, error) {
	cur, err := s.db.Collection(colWorkflows).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: find workflows: %w", err)
	}

	var models []workflowModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conductor/mongo: decode workflows: %w", err)
	}

	result := make([]*workflow.Instance, 0, len(models))
	for i := range models {
		inst, err := fromWorkflowModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, nil
}

func workflowIDs(ids []id.WorkflowID) bson.A {
	out := make(bson.A, len(ids))
	for i, wid := range ids {
		out[i] = wid.String()
	}
	return out
}
