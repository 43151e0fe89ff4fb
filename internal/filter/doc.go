// Package filter implements the content match rules shared by the ingest
// reader and the export pipeline: a case-insensitive any-of substring list
// and an optional CEL expression.
package filter
