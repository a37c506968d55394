package helloasso

import (
	"fmt"
	"time"

	"github.com/assoctools/rolesync/entity"
)

// Order is a raw order payload from the v5 API.
type Order struct {
	ID    int64     `json:"id"`
	Date  time.Time `json:"date"`
	Payer Payer     `json:"payer"`
	Items []Item    `json:"items"`
}

type Payer struct {
	Email string `json:"email"`
}

type Item struct {
	Type         string        `json:"type"`
	CustomFields []CustomField `json:"customFields"`
}

type CustomField struct {
	Name   string `json:"name"`
	Answer string `json:"answer"`
}

// Form describes one of the organization's forms.
type Form struct {
	FormSlug string `json:"formSlug"`
	FormType string `json:"formType"`
	Title    string `json:"title"`
}

// Membership extracts the normalized membership from the order. An order
// must contain exactly one Membership-typed item.
func (o Order) Membership() (entity.Membership, error) {
	var item *Item
	for i := range o.Items {
		if o.Items[i].Type == "Membership" {
			if item != nil {
				return entity.Membership{}, fmt.Errorf("order %d: multiple Membership items", o.ID)
			}
			item = &o.Items[i]
		}
	}
	if item == nil {
		return entity.Membership{}, fmt.Errorf("order %d: no Membership item", o.ID)
	}

	fields := make(map[string]string, len(item.CustomFields))
	for _, f := range item.CustomFields {
		fields[f.Name] = f.Answer
	}

	return entity.Membership{
		Email:        o.Payer.Email,
		Date:         o.Date,
		CustomFields: fields,
	}, nil
}
