// Package logging builds the zap logger used by clinicd.
//
// Log output is JSON (or console) on stdout, optionally teed into the
// OpenTelemetry log pipeline through the otelzap bridge. Before a line is
// written the message and every string field pass through a phi.Scrubber,
// so identifiers that slip into a log call (a patient name in an error, an
// MRN in a filename) never reach disk. Field names listed in RedactKeys are
// masked outright.
//
// Request and document IDs travel in the context:
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	ctx = logging.WithDocumentID(ctx, doc.ID)
//	logging.For(ctx, logger).Info("extraction completed")
//
// For appends request.id, document.id and the active trace and span IDs.
package logging
