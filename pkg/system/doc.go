// Package system wraps the host-level collaborators the orchestrator
// drives: systemd units, docker compose services, certbot certificates,
// and crontab entries. Every manager takes a Runner so tests can swap
// the real command execution for a recording fake.
package system
