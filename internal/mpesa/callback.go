package mpesa

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Callback is the settled result the provider pushes to CallBackURL.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	// Set only on success.
	Amount          int64
	ReceiptNumber   string
	TransactionDate string
	PhoneNumber     string
}

func (c Callback) Success() bool {
	return c.ResultCode == ResultSuccess
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        ResultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

var ErrMalformedCallback = errors.New("mpesa: malformed callback")

func ParseCallback(body []byte) (Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, errors.Join(ErrMalformedCallback, err)
	}
	stk := env.Body.StkCallback
	if strings.TrimSpace(stk.CheckoutRequestID) == "" || !stk.ResultCode.Valid {
		return Callback{}, ErrMalformedCallback
	}

	out := Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: strings.TrimSpace(stk.CheckoutRequestID),
		ResultCode:        stk.ResultCode.Code,
		ResultDesc:        stk.ResultDesc,
	}
	for _, item := range stk.CallbackMetadata.Item {
		value := rawValue(item.Value)
		switch item.Name {
		case "Amount":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				out.Amount = int64(math.Round(f))
			}
		case "MpesaReceiptNumber":
			out.ReceiptNumber = value
		case "TransactionDate":
			out.TransactionDate = value
		case "PhoneNumber":
			out.PhoneNumber = value
		}
	}
	return out, nil
}

// rawValue renders a metadata value as text whether it was sent as a JSON
// string or a number.
func rawValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
