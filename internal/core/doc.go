// Package core provides the subscriber CSV import pipeline.
//
// This package holds all domain logic independent of any transport. It is
// used by the web handlers, the csvimport CLI and tests without change.
//
// # Pipeline
//
// Data flows strictly downward:
//
//  1. [ReadContent] reads the file into memory, enforcing a size limit,
//     stripping a byte order mark and decoding to UTF-8.
//  2. [Parse] splits it into a [Table], detecting the separator.
//  3. [FieldMapper] suggests which column holds each canonical [Field] and
//     builds a [FieldMapping] from the caller's choices.
//  4. [RowValidator] turns each [RawRow] into a [Record] or row errors.
//  5. [ImportBatcher] submits records in batches through a
//     [BatchSubmitter], retrying failed batches with backoff.
//
// A [Session] drives one file through these steps and produces the
// [ImportReport]. A [Service] hosts many sessions by id and bounds how many
// run at once with a [SessionLimiter].
//
//	svc := core.NewService(submitter, core.ServiceConfig{}, logger)
//	sess, err := svc.StartImport(ctx, "list.csv", file, core.ParseOptions{})
//	if err != nil {
//	    return err
//	}
//	if err := svc.ConfirmMapping(ctx, sess.ID(), sess.Suggestion()); err != nil {
//	    return err
//	}
//	report, err := svc.Report(ctx, sess.ID(), true)
//
// # Errors
//
// Parse errors ([*ParseError]) abort a session. Mapping errors
// ([*MappingError]) leave it waiting for a new mapping. Row errors are
// collected into the report and never stop an import.
//
// [MapError] turns any of these into a [UserMessage] with a support code:
//
//   - FILE001-FILE005: file errors (size, quoting, encoding, empty)
//   - MAP001-MAP004: mapping errors
//   - UPL001-UPL007: session errors (busy, expired, wrong step)
//   - SUB001-SUB002: backend errors
//   - RATE001: rate limiting
//   - ERR000: unknown error (check logs)
package core
