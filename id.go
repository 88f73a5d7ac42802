package conductor

import "github.com/xraph/conductor/id"

// ID is the primary identifier type for all conductor entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
