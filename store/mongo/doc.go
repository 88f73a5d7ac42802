// Package mongo implements store.Store on the official MongoDB driver.
// Suitable for deployments that already run MongoDB for pipeline metadata.
//
// New dials and owns its client. NewFromDatabase wraps a caller-owned
// database handle, which Close leaves open:
//
//	import "github.com/xraph/conductor/store/mongo"
//
//	s, _ := mongo.New(ctx, "mongodb://localhost:27017", "conductor")
//	defer s.Close()
//	s.Migrate(ctx)
package mongo
