package domain

import (
	"context"
	"time"
)

// Operation identifies a GDPR data subject operation for rate limiting and
// audit purposes.
type Operation string

const (
	OperationExport Operation = "export"
	OperationDelete Operation = "delete"
)

// ExportFormat selects the serialization of a persisted export.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatYAML ExportFormat = "yaml"
)

// ParseExportFormat maps a user supplied format name to an ExportFormat.
// The empty string selects JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", NewDomainError("ParseExportFormat", ErrUnsupportedFormat, s)
}

// Extension returns the file extension used for persisted exports.
func (f ExportFormat) Extension() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// ExportOptions controls a portability export.
type ExportOptions struct {
	Format ExportFormat
	// SaveToFile persists the document under the export directory.
	SaveToFile bool
}

// DeleteOptions controls an erasure. Confirmed must be true or the erasure
// is refused before any storage access.
type DeleteOptions struct {
	Confirmed          bool
	Reason             string
	ExportBeforeDelete bool
}

// Record is one exported row keyed by column name.
type Record map[string]any

// TableExport holds every exported row of one table.
type TableExport struct {
	Records []Record `json:"records" yaml:"records"`
	Count   int      `json:"count" yaml:"count"`
}

// DecryptionFailure names a field whose stored value looked like an
// envelope but could not be decrypted. The stored value is exported as is.
type DecryptionFailure struct {
	Table    string `json:"table" yaml:"table"`
	RecordID any    `json:"recordId" yaml:"recordId"`
	Field    string `json:"field" yaml:"field"`
}

// ExportMetadata describes an export document.
type ExportMetadata struct {
	ExportDate         time.Time           `json:"exportDate" yaml:"exportDate"`
	UserID             int64               `json:"userId" yaml:"userId"`
	SchemaVersion      string              `json:"schemaVersion" yaml:"schemaVersion"`
	Format             ExportFormat        `json:"format" yaml:"format"`
	TotalRecords       int                 `json:"totalRecords" yaml:"totalRecords"`
	DecryptionFailures []DecryptionFailure `json:"decryptionFailures,omitempty" yaml:"decryptionFailures,omitempty"`
}

// UserDataExport is the full portability document for one user.
type UserDataExport struct {
	Metadata ExportMetadata          `json:"metadata" yaml:"metadata"`
	UserData map[string]*TableExport `json:"userData" yaml:"userData"`
}

// ExportResult is returned by the orchestrated export.
type ExportResult struct {
	Data     *UserDataExport
	FilePath string
}

// DeleteResult reports a completed erasure.
type DeleteResult struct {
	Success            bool             `json:"success"`
	DeletionDate       time.Time        `json:"deletionDate"`
	DeletedCounts      map[string]int64 `json:"deletedCounts"`
	PreservedAuditLogs int              `json:"preservedAuditLogs"`
	PreservedConsents  int              `json:"preservedConsents"`
	ExportPath         string           `json:"exportPath,omitempty"`
}

// UserDataExporter reads every row a user owns.
type UserDataExporter interface {
	ExportAllUserData(ctx context.Context, userID int64, opts ExportOptions) (*UserDataExport, error)
}

// UserDataDeleter erases every row a user owns, except the audit trail and
// consent history.
type UserDataDeleter interface {
	DeleteAllUserData(ctx context.Context, userID int64, opts DeleteOptions) (*DeleteResult, error)
}
