// ledger.go
// ---------
// Typed ledger operations: contacts, debts and payments. Reads are cacheable
// and served through the response cache; writes invalidate the prefixes they
// make stale before any subsequent read can observe pre-write state.
package ledgerbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Contact is a person money is owed to or by.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Debt is a single tracked amount between the user and a contact.
type Debt struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Note      string    `json:"note"`
	Paid      bool      `json:"paid"`
	DueAt     time.Time `json:"due_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is a partial or full settlement recorded against a debt.
type Payment struct {
	ID     string    `json:"id"`
	DebtID string    `json:"debt_id"`
	Amount float64   `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
}

// ListOptions controls cacheable reads.
type ListOptions struct {
	// ForceRefresh bypasses the cache read; the fresh result still writes
	// through on success.
	ForceRefresh bool
}

// Contacts lists the user's contacts.
func (c *Client) Contacts(ctx context.Context, opts ListOptions) ([]Contact, error) {
	resp, err := c.Do(ctx, &Request{
		Method:       http.MethodGet,
		Path:         "/contacts",
		UseAuth:      true,
		Cacheable:    true,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}
	return decodeList[Contact](resp)
}

// CreateContact adds a contact and invalidates cached contact reads.
func (c *Client) CreateContact(ctx context.Context, name, phone string) (*Contact, error) {
	resp, err := c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/contacts",
		Body:    Payload{"name": name, "phone": phone},
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}
	c.cache.invalidatePrefix("/contacts")
	return decodeItem[Contact](resp)
}

// Debts lists debts, optionally narrowed to one contact.
func (c *Client) Debts(ctx context.Context, contactID string, opts ListOptions) ([]Debt, error) {
	query := url.Values{}
	if contactID != "" {
		query.Set("contact_id", contactID)
	}
	resp, err := c.Do(ctx, &Request{
		Method:       http.MethodGet,
		Path:         "/debts",
		Query:        query,
		UseAuth:      true,
		Cacheable:    true,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}
	return decodeList[Debt](resp)
}

// Debt fetches one debt by id.
func (c *Client) Debt(ctx context.Context, id string, opts ListOptions) (*Debt, error) {
	resp, err := c.Do(ctx, &Request{
		Method:       http.MethodGet,
		Path:         "/debts/" + id,
		UseAuth:      true,
		Cacheable:    true,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}
	return decodeItem[Debt](resp)
}

// CreateDebtInput carries the fields for a new debt.
type CreateDebtInput struct {
	ContactID string
	Amount    float64
	Currency  string
	Note      string
	DueAt     time.Time
}

// CreateDebt records a new debt and invalidates cached debt reads.
func (c *Client) CreateDebt(ctx context.Context, in CreateDebtInput) (*Debt, error) {
	body := Payload{
		"contact_id": in.ContactID,
		"amount":     in.Amount,
		"currency":   in.Currency,
		"note":       in.Note,
	}
	if !in.DueAt.IsZero() {
		body["due_at"] = in.DueAt.Format(time.RFC3339)
	}
	resp, err := c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/debts",
		Body:    body,
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}
	c.cache.invalidatePrefix("/debts")
	return decodeItem[Debt](resp)
}

// MarkDebtPaid settles a debt in full.
func (c *Client) MarkDebtPaid(ctx context.Context, id string) (*Debt, error) {
	resp, err := c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/debts/%s/mark-paid", id),
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}
	c.cache.invalidatePrefix("/debts")
	return decodeItem[Debt](resp)
}

// RecordPayment registers a partial settlement against a debt.
func (c *Client) RecordPayment(ctx context.Context, debtID string, amount float64) (*Payment, error) {
	resp, err := c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/debts/%s/payments", debtID),
		Body:    Payload{"amount": amount},
		UseAuth: true,
	})
	if err != nil {
		return nil, err
	}
	c.cache.invalidatePrefix("/debts")
	return decodeItem[Payment](resp)
}

// decodeItem decodes the envelope's data object into T.
func decodeItem[T any](resp *Response) (*T, error) {
	data, ok := resp.Body.Data()
	if !ok {
		return nil, parseFailure(resp.StatusCode, errMissingData)
	}
	out := new(T)
	if err := data.Decode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeList decodes the envelope's data array into a slice of T.
func decodeList[T any](resp *Response) ([]T, error) {
	items, ok := resp.Body.DataArray()
	if !ok {
		return nil, parseFailure(resp.StatusCode, errMissingData)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, parseFailure(resp.StatusCode, fmt.Errorf("list item is %T, not an object", item))
		}
		var v T
		if err := Payload(obj).Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
