// Package redis implements store.Store on Redis. Every record is a Hash,
// queues are Sorted Sets scored by priority and run time, and workflow
// instances are indexed by creation time for list and purge scans.
// Argument, result, and run-history payloads are msgpack encoded.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
