package peermesh

import "github.com/peermesh/peermesh/id"

// ID is the primary identifier type for all peermesh entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
