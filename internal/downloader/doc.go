// Package downloader executes a download plan.
//
// A fixed pool of workers drains a shared queue of jobs. Each job is
// streamed into a temporary sibling of its destination and renamed into
// place once the body is complete, so a destination path holds either
// nothing or a whole file. That is what makes skipping existing files a safe
// way to resume an interrupted run.
//
// The first failing job stops the pool from taking new work; jobs already
// in flight are allowed to finish and the failure is returned.
package downloader
