package logic

import (
	"strings"

	"github.com/benjaminabbitt/storefront/shop"
)

// Address is a postal address.
type Address struct {
	Street     string `json:"street"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

// CustomerProfile is the contact and delivery data collected at checkout.
// Billing is set only when the shopper asked for a separate billing address.
type CustomerProfile struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Address   Address  `json:"address"`
	UserID    string   `json:"userId,omitempty"`
	Billing   *Address `json:"billing,omitempty"`
}

// FullName joins first and last name.
func (p CustomerProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// BillingAddress returns the separate billing address, or the delivery
// address when none was given.
func (p CustomerProfile) BillingAddress() Address {
	if p.Billing != nil {
		return *p.Billing
	}
	return p.Address
}

// Clone returns a copy that shares no memory with p.
func (p CustomerProfile) Clone() CustomerProfile {
	if p.Billing != nil {
		b := *p.Billing
		p.Billing = &b
	}
	return p
}

// ValidateProfile checks the required fields and the email format. The
// returned error is a *ValidationError listing every failing field.
func ValidateProfile(p CustomerProfile) error {
	v := &ValidationError{}
	v.add("firstName", shop.RequireText(p.FirstName, ErrMsgFirstNameRequired))
	v.add("lastName", shop.RequireText(p.LastName, ErrMsgLastNameRequired))
	if err := shop.RequireText(p.Email, ErrMsgEmailRequired); err != nil {
		v.add("email", err)
	} else {
		v.add("email", shop.RequireEmail(p.Email, ErrMsgEmailInvalid))
	}
	v.add("phone", shop.RequireText(p.Phone, ErrMsgPhoneRequired))
	validateAddress(v, "", p.Address)
	if p.Billing != nil {
		validateAddress(v, "billing.", *p.Billing)
	}
	return v.orNil()
}

func validateAddress(v *ValidationError, prefix string, a Address) {
	v.add(prefix+"address", shop.RequireText(a.Street, ErrMsgStreetRequired))
	v.add(prefix+"postalCode", shop.RequireText(a.PostalCode, ErrMsgPostalCodeRequired))
	v.add(prefix+"city", shop.RequireText(a.City, ErrMsgCityRequired))
	v.add(prefix+"country", shop.RequireText(a.Country, ErrMsgCountryRequired))
}
