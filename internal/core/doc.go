// Package core is the service facade of the reconciliation engine.
//
// It wires the pipeline stages into the operations exposed by the HTTP API,
// the recon CLI and the scheduler, and holds no transport concerns itself.
//
// # Pipeline
//
//  1. [Service.InferRegistry] samples every file listed in SOURCES_PATH and
//     writes the schema registry to REGISTRY_PATH.
//  2. [Service.CleanSources] cleans each source file against the registry
//     into OUTPUT_DIR, optionally bulk-loading the tables into PostgreSQL.
//  3. [Service.GenerateReport] renders the reconciliation SQL pipeline.
//  4. [Service.RunReport] and [Service.StartRun] execute the pipeline and
//     export the report to REPORT_DIR.
//
// Report runs take a run slot (one by default) because each one drops and
// recreates the same view; [Service.Active] lists the runs holding one. Finished runs stay in an in-memory history
// ([Service.Runs]) bounded by REPORT_HISTORY_SIZE.
//
// # Scheduling
//
// [Scheduler] wraps robfig/cron. Each tick calls RunReport with the
// REPORT_* defaults and, when REPORT_LOOKBACK_DAYS is set, a date filter
// covering the last N days in REPORT_TIMEZONE.
//
// # Error Handling
//
// Technical errors are mapped to coded user messages with [MapError]; see
// errors.go for the code reference.
package core
