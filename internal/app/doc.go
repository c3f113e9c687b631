// Package app assembles the daemon: it loads and watches the YAML config,
// owns logging and storage, registers the local device on the in-process
// network and builds the configured value objects, calendars and schedules.
//
// A config reload tears down the entity set and rebuilds it; schedules then
// re-run their initial resolution and dispatch. A cron-driven maintenance
// job prunes stored dispatch and history entries past the retention window.
package app
