// Package errors provides standardized error types and helpers for the redline codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrOutOfRange indicates a character span outside a paragraph's text
	ErrOutOfRange = errors.New("span out of range")
	// ErrNoPlausibleSpan indicates no adequate target span could be located
	ErrNoPlausibleSpan = errors.New("no plausible span")
	// ErrOracleUnavailable indicates the alignment or translation service failed after retries
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOverlap indicates an attempt to delete text that is already marked deleted
	ErrOverlap = errors.New("overlaps existing deletion")
	// ErrStructural indicates a document too malformed to process
	ErrStructural = errors.New("structural error")
)

// OutOfRangeError reports a character span that exceeds a paragraph's
// plain-text projection. It is fatal to the operation that produced it,
// never to the whole job.
type OutOfRangeError struct {
	Paragraph int   // Paragraph index within the document
	Offset    int   // Requested span start
	Length    int   // Requested span length
	Limit     int   // Paragraph projection length
	Err       error // Underlying error, if any
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("span [%d,%d) out of range in paragraph %d (length %d)",
		e.Offset, e.Offset+e.Length, e.Paragraph, e.Limit)
}

func (e *OutOfRangeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrOutOfRange
}

// NoPlausibleSpanError reports that neither the oracle nor the fuzzy
// fallback located a target span above the acceptance floor. The operation
// is skipped rather than applied at a guessed position.
type NoPlausibleSpanError struct {
	Paragraph int     // Target paragraph index
	Span      string  // Source span text being located (may be clipped)
	BestRatio float64 // Best similarity ratio the fallback achieved
	Floor     float64 // Minimum acceptable ratio
	Err       error   // Underlying error, if any
}

func (e *NoPlausibleSpanError) Error() string {
	return fmt.Sprintf("no plausible span for %q in paragraph %d (best ratio %.2f, floor %.2f)",
		clip(e.Span, 32), e.Paragraph, e.BestRatio, e.Floor)
}

func (e *NoPlausibleSpanError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNoPlausibleSpan
}

// OracleUnavailableError reports that an external service call exhausted
// its retry budget.
type OracleUnavailableError struct {
	Service  string // Service that failed (e.g., "oracle", "translator")
	Attempts int    // Number of attempts made
	Err      error  // Last underlying error
}

func (e *OracleUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Service, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s unavailable after %d attempts", e.Service, e.Attempts)
}

func (e *OracleUnavailableError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOracleUnavailable, e.Err}
	}
	return []error{ErrOracleUnavailable}
}

// OverlapError reports a deletion that would cover text already enclosed by
// an existing Deletion revision. The covered sub-range is skipped.
type OverlapError struct {
	Paragraph  int   // Target paragraph index
	Offset     int   // Span start within the paragraph
	Length     int   // Span length
	RevisionID int64 // Id of the existing deletion, if known
	Err        error // Underlying error, if any
}

func (e *OverlapError) Error() string {
	if e.RevisionID > 0 {
		return fmt.Sprintf("span [%d,%d) in paragraph %d overlaps existing deletion %d",
			e.Offset, e.Offset+e.Length, e.Paragraph, e.RevisionID)
	}
	return fmt.Sprintf("span [%d,%d) in paragraph %d overlaps an existing deletion",
		e.Offset, e.Offset+e.Length, e.Paragraph)
}

func (e *OverlapError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrOverlap
}

// StructuralError reports a document that cannot be processed at all
// (empty body, unparseable XML part, missing container entry). It aborts
// the whole job.
type StructuralError struct {
	Document string // Which document ("source", "target") or path
	Reason   string // Human-readable explanation
	Err      error  // Underlying error, if any
}

func (e *StructuralError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("structural error in %s document: %s", e.Document, e.Reason)
	}
	return fmt.Sprintf("structural error: %s", e.Reason)
}

func (e *StructuralError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStructural, e.Err}
	}
	return []error{ErrStructural}
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "job", "ledger entry", "bundle member")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ParseError represents a parsing or deserialization error
type ParseError struct {
	Format  string // Format being parsed (e.g., "JSON", "XML", "model response")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Helper functions for creating common errors

// NewOutOfRange creates an OutOfRangeError
func NewOutOfRange(paragraph, offset, length, limit int) *OutOfRangeError {
	return &OutOfRangeError{
		Paragraph: paragraph,
		Offset:    offset,
		Length:    length,
		Limit:     limit,
	}
}

// NewNoPlausibleSpan creates a NoPlausibleSpanError
func NewNoPlausibleSpan(paragraph int, span string, bestRatio, floor float64) *NoPlausibleSpanError {
	return &NoPlausibleSpanError{
		Paragraph: paragraph,
		Span:      span,
		BestRatio: bestRatio,
		Floor:     floor,
	}
}

// NewOracleUnavailable creates an OracleUnavailableError
func NewOracleUnavailable(service string, attempts int, err error) *OracleUnavailableError {
	return &OracleUnavailableError{
		Service:  service,
		Attempts: attempts,
		Err:      err,
	}
}

// NewOverlap creates an OverlapError
func NewOverlap(paragraph, offset, length int, revisionID int64) *OverlapError {
	return &OverlapError{
		Paragraph:  paragraph,
		Offset:     offset,
		Length:     length,
		RevisionID: revisionID,
	}
}

// NewStructural creates a StructuralError
func NewStructural(document, reason string, err error) *StructuralError {
	return &StructuralError{
		Document: document,
		Reason:   reason,
		Err:      err,
	}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
