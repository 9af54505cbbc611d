// Package policy holds the small admission middleware: default headers,
// offsite filtering, depth limiting and HTTP status vetoes.
package policy
