// Package processors contains the built-in item processors selectable by
// name: required, trim, dedupe, stamp and fingerprint.
package processors
