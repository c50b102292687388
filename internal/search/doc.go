// Package search finds documents by case-insensitive substring match over
// their extracted diagnoses and clinical notes.
package search
