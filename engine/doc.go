// Package engine wires all conductor subsystems together and provides the
// application-level API for registering step bodies and running
// workflows.
//
// The engine package exists to break an import cycle: the root conductor
// package defines Entity and the sentinel errors (imported by task,
// workflow, cluster, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	c, err := conductor.New(
//	    conductor.WithStore(pgStore),
//	    conductor.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithCatalog(catalog),
//	    engine.WithLiveSource(metadataClient),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:   "heavy",
//	        Limits: queue.Limits{MaxConcurrency: 4},
//	    }),
//	)
//
// # Registering Step Bodies
//
//	engine.Register(eng, CopyFiles)
//	eng.RegisterFunc("index_files", indexFiles)
//
// # Running Workflows
//
//	inst, err := eng.CreateWorkflow(ctx, "ingest", []any{datasetID}, "app-1")
//	_, err = eng.Workflows().Start(ctx, inst)
//	status, err := eng.Workflows().Status(ctx, inst.ID)
//
// The engine is the workflow Dispatcher: Submit enqueues step tasks and
// Revoke stops them. Every task carries the step hook, which chains a
// successful step into the next one.
//
// # Scheduled Purge
//
//	eng.SchedulePurge("@every 1h", workflow.PurgeRequest{
//	    OwnerTag:      "app-1",
//	    OlderThan:     24 * time.Hour,
//	    MaxPurgeCount: 500,
//	})
//
// Scheduled entries run on the elected leader only.
//
// # Control Plane
//
// An engine built WithControlPlane creates, pauses, resumes and purges
// workflows against the shared store without running step bodies. Worker
// processes sharing the store execute the submitted steps.
package engine
