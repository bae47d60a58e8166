package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// objectRef is a processor reference that arrives either as a bare id or,
// when expanded, as an object carrying an id.
type objectRef string

func (r *objectRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = objectRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("reference is neither id nor object: %w", err)
	}
	*r = objectRef(obj.ID)
	return nil
}

type checkoutSessionPayload struct {
	ID              string    `json:"id"`
	Mode            string    `json:"mode"`
	PaymentStatus   string    `json:"payment_status"`
	Customer        objectRef `json:"customer"`
	Subscription    objectRef `json:"subscription"`
	PaymentIntent   objectRef `json:"payment_intent"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// settled reports whether the session's funds have been collected.
func (s checkoutSessionPayload) settled() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// contactEmail is the checkout contact address, preferring the explicit one.
func (s checkoutSessionPayload) contactEmail() string {
	if email := strings.TrimSpace(s.CustomerEmail); email != "" {
		return strings.ToLower(email)
	}
	return strings.ToLower(strings.TrimSpace(s.CustomerDetails.Email))
}

type invoicePayload struct {
	ID           string    `json:"id"`
	Subscription objectRef `json:"subscription"`
	PeriodEnd    int64     `json:"period_end"`
	Lines        struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription objectRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID returns the billing subscription the invoice belongs to,
// accepting both the classic field and the newer parent details.
func (i invoicePayload) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// servicePeriodEnd is the end of the period the invoice pays for. The first
// line item carries the subscription period; the invoice-level field is the
// fallback.
func (i invoicePayload) servicePeriodEnd() time.Time {
	if len(i.Lines.Data) > 0 && i.Lines.Data[0].Period.End > 0 {
		return time.Unix(i.Lines.Data[0].Period.End, 0).UTC()
	}
	if i.PeriodEnd > 0 {
		return time.Unix(i.PeriodEnd, 0).UTC()
	}
	return time.Time{}
}

type subscriptionPayload struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Customer objectRef `json:"customer"`
}

type paymentIntentPayload struct {
	ID       string            `json:"id"`
	Customer objectRef         `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return missingField("data.object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: undecodable payload: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
