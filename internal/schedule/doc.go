// Package schedule parses recurring schedule expressions and computes their
// occurrences.
//
// Supported forms (case-insensitive, any amount of whitespace):
//   - "every day HH:MM"
//   - "every <monday..sunday> HH:MM", "every week <day> HH:MM"
//   - "every month <1..31> HH:MM" (short months fire on their last day)
//   - "every month <first|last|1st|2nd|3rd|4th> <day> HH:MM"
//
// Every expression compiles to a cron.Schedule. Next never returns an instant
// at or before the reference time, so re-parsing at an exact boundary always
// moves forward.
package schedule
