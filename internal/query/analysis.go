package query

import "strings"

// successCode is the gateway response code for an approved operation.
const successCode = "10000"

// Status vocabularies that count as success for each lifecycle stage.
var (
	refundOK   = []string{"FULLY_REFUNDED", "PARTIALLY_REFUNDED"}
	voidOK     = []string{"CANCELED"}
	approvedOK = []string{"APPROVED"}
	failedAny  = []string{"DECLINED", "FAILED"}
)

const partition = "PARTITION BY ga.gateway_order_id, ga.gateway_transaction_id"

// rankedItems are the per-group window columns added over gateway_analysis.
func rankedItems() []Item {
	return []Item{
		{Expr: "ga.*"},
		{Expr: "(MAX(CASE WHEN ga.is_auth THEN 1 ELSE 0 END) OVER (" + partition + "))::INTEGER", As: "has_auth_in_group"},
		{Expr: "(MAX(CASE WHEN ga.is_capture THEN 1 ELSE 0 END) OVER (" + partition + "))::INTEGER", As: "has_capture_in_group"},
		{Expr: "(MAX(CASE WHEN ga.is_auth THEN ga.rrn END) OVER (" + partition + "))::VARCHAR", As: "auth_rrn_in_group"},
		{Expr: "(MAX(CASE WHEN ga.is_auth THEN ga.authorization_code END) OVER (" + partition + "))::VARCHAR", As: "auth_authorization_code_in_group"},
	}
}

// mergedPair holds for a capture whose group also has an authorization.
const mergedPair = "rt.has_auth_in_group = 1 AND rt.has_capture_in_group = 1"

// mergedAuthFilter drops authorizations already represented by their capture.
const mergedAuthFilter = "NOT (rt.is_auth AND " + mergedPair + ")"

func statusIn(statuses []string) string {
	if len(statuses) == 1 {
		return "UPPER(rt.status) = " + quote(statuses[0])
	}
	q := make([]string, len(statuses))
	for i, s := range statuses {
		q[i] = quote(s)
	}
	return "UPPER(rt.status) IN (" + strings.Join(q, ", ") + ")"
}

func succeeded(statuses []string) string {
	return "rt.response_code = '" + successCode + "' OR " + statusIn(statuses)
}

const voidStage = "rt.is_void OR UPPER(rt.status) = 'CANCEL'"

const responseText = "COALESCE(rt.response_code, '')"

// analysisLabel is the human-readable classification of a row.
func analysisLabel() string {
	lines := []string{
		"CASE",
		"        WHEN rt.is_refund THEN CASE WHEN " + succeeded(refundOK) + " THEN 'Refund Successful' ELSE 'Refund Failed/Pending' END",
		"        WHEN " + voidStage + " THEN CASE WHEN " + succeeded(voidOK) + " THEN 'Void Successful' ELSE 'Void Failed/Pending' END",
		"        WHEN rt.is_capture THEN CASE",
		"            WHEN rt.has_auth_in_group = 0 THEN CASE WHEN " + succeeded(approvedOK) + " THEN 'Capture Successful (auth_less)' ELSE 'Capture Failed/Pending (auth_less)' END",
		"            WHEN " + succeeded(approvedOK) + " THEN 'Capture Successful (Authorisation Merged)'",
		"            ELSE 'Capture Failed/Pending (Check Response: ' || " + responseText + " || ')'",
		"        END",
		"        WHEN rt.is_auth THEN CASE WHEN " + succeeded(approvedOK) + " THEN 'Authorisation Successful' ELSE 'Authorisation Failed (Check Response: ' || " + responseText + " || ')' END",
		"        WHEN rt.response_code = '" + successCode + "' THEN 'General Success (Code " + successCode + ")'",
		"        WHEN " + statusIn(approvedOK) + " THEN 'General Success (Approved)'",
		"        WHEN rt.response_code IS NOT NULL AND rt.response_code <> '' THEN 'General Failure (Code: ' || rt.response_code || ')'",
		"        WHEN " + statusIn(failedAny) + " THEN 'General Failure (Declined/Failed)'",
		"        ELSE 'Unknown/Incomplete Status'",
		"    END::VARCHAR",
	}
	return strings.Join(lines, "\n")
}

// outcome is the binary Success/Failure classification. It is rendered
// inline both as a column and as a filter.
func outcome() string {
	return "CASE" +
		" WHEN rt.is_refund THEN CASE WHEN " + succeeded(refundOK) + " THEN 'Success' ELSE 'Failure' END" +
		" WHEN " + voidStage + " THEN CASE WHEN " + succeeded(voidOK) + " THEN 'Success' ELSE 'Failure' END" +
		" WHEN rt.is_capture OR rt.is_auth THEN CASE WHEN " + succeeded(approvedOK) + " THEN 'Success' ELSE 'Failure' END" +
		" WHEN rt.response_code = '" + successCode + "' THEN 'Success'" +
		" WHEN " + statusIn(approvedOK) + " THEN 'Success'" +
		" ELSE 'Failure' END"
}

// analysisItems are the columns transaction_with_analysis adds.
func analysisItems() []Item {
	return []Item{
		{Expr: "rt.*"},
		{Expr: "CASE WHEN rt.is_capture AND " + mergedPair + " THEN rt.auth_rrn_in_group ELSE rt.rrn END::VARCHAR", As: "final_rrn"},
		{Expr: "CASE WHEN rt.is_capture AND " + mergedPair + " THEN rt.auth_authorization_code_in_group ELSE rt.authorization_code END::VARCHAR", As: "final_authorization_code"},
		{Expr: analysisLabel(), As: "transaction_analysis"},
		{Expr: outcome() + "::VARCHAR", As: "transaction_outcome"},
	}
}
