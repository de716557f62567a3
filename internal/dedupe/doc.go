// Package dedupe remembers recently handled Matrix event IDs so a command
// redelivered by sync is executed only once.
package dedupe
