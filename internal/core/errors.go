// Package core provides the service facade of the reconciliation engine.
//
// # Error Codes Reference
//
// Technical errors are mapped to user-facing messages with a code operators
// can quote when something goes wrong. Codes are grouped by stage:
//
// # Registry Errors (REG001-REG099)
//
//	REG001 - Registry missing: no schema registry has been built yet
//	         Action: Run inference first (recon infer)
//	         Patterns: "schema registry not found"
//
//	REG002 - Unknown source: the source is not in the catalog or registry
//	         Action: Use one of portal, metabase, checkout_v1, checkout_v2, payfort, tamara, bank
//	         Patterns: "unknown source"
//
//	REG003 - Duplicate table: two sources share a target table
//	         Action: Give each source its own target table in the catalog overrides
//	         Patterns: "duplicate target table"
//
//	REG004 - Bad registry: the registry file could not be parsed
//	         Action: Re-run inference to rebuild the registry
//	         Patterns: "parse registry"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Empty file: a source file has no header row
//	FILE002 - Unsupported format: only .csv, .txt, .xlsx and .xls are read
//	FILE003 - Missing file: a listed file or pattern matched nothing
//	FILE004 - Source list: the source list file is missing or malformed
//
// # Cleaning Errors (CLN001-CLN099)
//
//	CLN001 - No columns: none of the file's headers map to a configured column
//	CLN002 - First batch failed: the run stopped on its first file
//
// # SQL Generation Errors (SQL001-SQL099)
//
//	SQL001 - Invalid date filter
//	SQL002 - Invalid table name
//	SQL003 - Unknown bank match strategy
//	SQL004 - Invalid field selection
//	SQL005 - Negative row limit
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Statement timeout
//	DB003 - Missing relation: a source table has not been loaded
//	DB004 - Permission denied
//	DB005 - Database not configured
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run in progress
//	RUN002 - Run not found
//	RUN003 - Request cancelled
//	RUN004 - Request timeout
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Invalid request body: the API request JSON could not be decoded
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the logs for the
// technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Registry
	{"schema registry not found", UserMessage{
		Message: "No schema registry has been built yet",
		Action:  "Run inference first (recon infer)",
		Code:    "REG001",
	}},
	{"unknown source", UserMessage{
		Message: "The requested source is not configured",
		Action:  "Use one of portal, metabase, checkout_v1, checkout_v2, payfort, tamara, bank",
		Code:    "REG002",
	}},
	{"duplicate target table", UserMessage{
		Message: "Two sources share the same target table",
		Action:  "Give each source its own target table in the catalog overrides",
		Code:    "REG003",
	}},
	{"parse registry", UserMessage{
		Message: "The schema registry file could not be read",
		Action:  "Re-run inference to rebuild the registry",
		Code:    "REG004",
	}},

	// Files
	{"file has no header row", UserMessage{
		Message: "A source file is empty",
		Action:  "Remove the file or re-export it from the source system",
		Code:    "FILE001",
	}},
	{"unsupported file format", UserMessage{
		Message: "The file format is not supported",
		Action:  "Export the file as CSV, XLSX or XLS",
		Code:    "FILE002",
	}},
	{"no files match", UserMessage{
		Message: "A source file pattern matched nothing",
		Action:  "Check the paths in the source list",
		Code:    "FILE003",
	}},
	{"source list", UserMessage{
		Message: "The source list could not be read",
		Action:  "Check SOURCES_PATH and the file's YAML syntax",
		Code:    "FILE004",
	}},

	// Cleaning
	{"no configured columns", UserMessage{
		Message: "None of the file's columns match the registry",
		Action:  "Check that the file belongs to this source or re-run inference",
		Code:    "CLN001",
	}},
	{"first batch failed", UserMessage{
		Message: "Cleaning stopped on the first file",
		Action:  "Fix the named file and run again",
		Code:    "CLN002",
	}},

	// SQL generation
	{"invalid date filter", UserMessage{
		Message: "The date filter is invalid",
		Action:  "Use YYYY-MM-DD dates with start on or before end",
		Code:    "SQL001",
	}},
	{"invalid table name", UserMessage{
		Message: "A target table name is not a valid identifier",
		Action:  "Use lowercase letters, digits and underscores for table names",
		Code:    "SQL002",
	}},
	{"bank match strategy", UserMessage{
		Message: "Unknown bank match strategy",
		Action:  "Use any or best",
		Code:    "SQL003",
	}},
	{"field selection", UserMessage{
		Message: "The field selection could not be parsed",
		Action:  "Use source:field[,field...] groups separated by ';'",
		Code:    "SQL004",
	}},
	{"row limit must not be negative", UserMessage{
		Message: "The row limit must not be negative",
		Action:  "Use 0 for no limit",
		Code:    "SQL005",
	}},

	// Database
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
	{"statement timeout", UserMessage{
		Message: "The report query took too long",
		Action:  "Narrow the date range or raise DB_STATEMENT_TIMEOUT",
		Code:    "DB002",
	}},
	{"does not exist", UserMessage{
		Message: "A source table has not been loaded",
		Action:  "Run recon clean --load for every source",
		Code:    "DB003",
	}},
	{"permission denied", UserMessage{
		Message: "The database user lacks the required permission",
		Action:  "Grant CREATE and SELECT on the reconciliation schema",
		Code:    "DB004",
	}},
	{"database not configured", UserMessage{
		Message: "No database connection is configured",
		Action:  "Set DATABASE_URL",
		Code:    "DB005",
	}},

	// Requests
	{"invalid request body", UserMessage{
		Message: "The request body is not valid",
		Action:  "Send a JSON report request; see GET /api/fields for field names",
		Code:    "REQ001",
	}},

	// Runs
	{"report run in progress", UserMessage{
		Message: "Another report run is in progress",
		Action:  "Wait for it to finish and try again",
		Code:    "RUN001",
	}},
	{"run not found", UserMessage{
		Message: "Run not found",
		Action:  "The run may have aged out of the history",
		Code:    "RUN002",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "RUN003",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "RUN004",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "<message> (Code: X). <action>".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err. Returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
