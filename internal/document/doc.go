// Package document defines the data exchanged by the extraction pipeline:
// the partitioner's element stream on the way in and the normalized clinical
// Record on the way out.
//
// Elements are decoded leniently. A missing "type" becomes "unknown" and a
// missing "text" becomes the empty string, so malformed partitioner output
// never aborts an extraction.
package document
