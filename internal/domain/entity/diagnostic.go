package entity

// DiagnosticKind classifies a diagnostic message produced alongside an
// extraction result.
type DiagnosticKind string

const (
	// DiagnosticExtractionFailure signals that the extraction process itself
	// failed (the vision call errored or returned nothing parseable).
	DiagnosticExtractionFailure DiagnosticKind = "EXTRACTION_FAILURE"

	// DiagnosticLowConfidence flags a single item field whose extraction
	// confidence fell below the configured threshold.
	DiagnosticLowConfidence DiagnosticKind = "LOW_CONFIDENCE"
)

// Diagnostic is a typed message produced by the extractor for the quality
// gate to evaluate.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
}
