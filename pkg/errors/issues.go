package errors

import (
	"fmt"
	"sort"
)

// RecordType names the kind of raw record an issue refers to.
type RecordType string

const (
	RecordOrder       RecordType = "order"
	RecordTransaction RecordType = "transaction"
)

// DataQualityIssue is the non-fatal trace of a record excluded from aggregation.
type DataQualityIssue struct {
	RecordType RecordType `json:"record_type"`
	RecordID   string     `json:"record_id"`
	Code       ErrorCode  `json:"code"`
	Reason     string     `json:"reason"`
}

func (i DataQualityIssue) String() string {
	return fmt.Sprintf("%s %s excluded (%s): %s", i.RecordType, i.RecordID, i.Code, i.Reason)
}

// IssueFromError converts a data-quality error into an issue. Errors outside the
// data-quality category keep their message with code unexpected_error.
func IssueFromError(recordType RecordType, recordID string, err error) DataQualityIssue {
	issue := DataQualityIssue{
		RecordType: recordType,
		RecordID:   recordID,
		Code:       CodeUnexpectedError,
		Reason:     err.Error(),
	}
	if re, ok := AsReconcilerError(err); ok {
		issue.Code = re.Code
		issue.Reason = re.Message
	}
	return issue
}

// SortIssues orders issues by record type, id and code so reports stay reproducible.
func SortIssues(issues []DataQualityIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.RecordType != b.RecordType {
			return a.RecordType < b.RecordType
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		return a.Code < b.Code
	})
}
