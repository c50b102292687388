// Package inbox watches a directory and ingests element JSON and PDF files
// dropped into it.
package inbox
