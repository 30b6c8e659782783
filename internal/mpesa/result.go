package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032
	ResultWrongPIN        = 2001
	ResultStillProcessing = 4999

	errorCodeStillProcessing = "500.001.1001"
)

// ResultCode decodes the provider result code, which arrives as a number in
// callbacks and as a string in query responses. Valid is false when the field
// is missing, null or blank; such a code must never settle a payment.
type ResultCode struct {
	Code  int
	Valid bool
}

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("mpesa result code %q: %w", raw, err)
	}
	*c = ResultCode{Code: n, Valid: true}
	return nil
}

// FailureMessage is the text shown to the payer for a non-zero result.
func FailureMessage(code int) string {
	switch code {
	case ResultCancelledByUser:
		return "Payment was cancelled on your phone."
	case ResultWrongPIN:
		return "Incorrect M-Pesa PIN entered."
	default:
		return "Your payment could not be completed. Please try again."
	}
}
