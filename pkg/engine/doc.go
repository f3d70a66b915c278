// Package engine provides the plugin contract and the orchestrator of the
// pickup backup tool.
//
// # Overview
//
// A run pulls data into a temporary staging area through generator plugins,
// pushes the whole staging area to one or more target plugins and tears the
// staging area down again:
//
//  1. Init - validate the run spec; in first-target-is-staging mode ask the
//     first target for its folder
//  2. Lock - acquire the single-instance process lock
//  3. Stage - allocate the staging root
//  4. Generate - run every generator into its own subfolder
//  5. Deliver - run every target against the staging root
//  6. Cleanup - remove the staging root and release the lock
//
// # Plugin Contract
//
// Generators and targets implement the same interface:
//
//	type Plugin interface {
//	    Init(ctx context.Context, profile ProfileConfig) error
//	    Run(ctx context.Context, path string) error
//	}
//
// Plugins declare their API version by implementing Versioned; a plugin that
// does not is rejected. Targets that store backups in a local directory also
// implement FolderProvider.
//
// The run context carries the engine clock (see Now) and a zerolog logger
// annotated with the profile (see zerolog.Ctx).
//
// # Error Classification
//
// Errors are classified to decide how a run proceeds:
//
//   - Fatal: the run cannot start; the process exits with ExitCodeFatal
//   - Load: the plugin cannot be resolved or is incompatible; it is skipped
//   - Runtime: Init or Run failed or panicked; the contribution is abandoned
//   - Retention: an expired backup could not be deleted
//   - Lock: the process lock could not be acquired or released
//
// Failures of single plugins never abort a run. Plugins are not retried and
// never run in parallel.
package engine
