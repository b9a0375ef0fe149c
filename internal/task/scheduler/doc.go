// Package scheduler registers named recurring schedules (intervals or cron expressions) and,
// on each firing, enqueues a task into the task engine. It never executes jobs itself.
package scheduler
