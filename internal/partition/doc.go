// Package partition obtains document elements: from the hosted partition
// API for PDFs, or from pre-partitioned element JSON files.
package partition
