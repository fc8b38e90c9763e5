// Package scheduler submits jobs on cron and interval triggers.
//
// The scheduler only computes trigger times. Execution, grouping and status
// tracking belong to the executor it submits to.
package scheduler
