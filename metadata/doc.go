// Package metadata is an HTTP client for the owning application's system
// of record. The purger reads an owner's live workflow ids through it,
// and step bodies ask it whether a dataset is locked for writes.
//
//	md := metadata.New("https://meta.internal/api",
//	    metadata.WithToken(token),
//	)
//	eng, err := engine.Build(c, engine.WithLiveSource(md))
//
// Outbound requests are traced with otelhttp.
package metadata
