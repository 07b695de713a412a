// Package strategy defines the typed configuration payload carried by a
// strategy version: the explicit fields the evolution engine reads and
// mutates, schema migration for payloads written by older builds, and the
// structured diff used by the audit log.
package strategy
