// Package scheduler runs the single periodic sweep that promotes due
// scheduled tasks into a priority queue and expands recurring (cron)
// tasks into their next instance.
//
// Scheduler is built the way the teacher's CleanWorker is: lcBase +
// internal.TimerTask + a config struct, the closest structural match
// in the teacher to "a single periodic background job." At most one
// Scheduler instance should run active per deployment; others should
// be started in standby and promoted on failover, since every
// promotion is a per-task conditional update, safe for more than one
// Scheduler to race against.
package scheduler
