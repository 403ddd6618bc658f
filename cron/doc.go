// Package cron validates and evaluates the 5-field cron expressions used
// by recurring tasks.
//
// It is a thin wrapper over github.com/robfig/cron/v3's standard parser,
// restricted to the classic minute/hour/day/month/day-of-week five-field
// form (no seconds field, no robfig descriptors like @every).
package cron
