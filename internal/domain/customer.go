package domain

import (
	"errors"
	"fmt"
	"strings"
)

type CustomerType string

const (
	CustomerRetail   CustomerType = "RETAIL"
	CustomerMember   CustomerType = "MEMBER"
	CustomerReseller CustomerType = "RESELLER"
)

var ErrInvalidCustomer = errors.New("invalid customer reference")

// Customer is the sale's customer reference. The ID is only meaningful
// together with Type: members and resellers live in separate tables.
type Customer struct {
	Type CustomerType
	ID   string
}

func RetailCustomer() Customer {
	return Customer{Type: CustomerRetail}
}

func MemberCustomer(id string) Customer {
	return Customer{Type: CustomerMember, ID: id}
}

func ResellerCustomer(id string) Customer {
	return Customer{Type: CustomerReseller, ID: id}
}

// ParseCustomer builds a Customer from the loose pair found on requests.
// An empty type with an empty id is a walk-in retail customer.
func ParseCustomer(customerType string, id string) (Customer, error) {
	id = strings.TrimSpace(id)
	switch CustomerType(strings.ToUpper(strings.TrimSpace(customerType))) {
	case "", CustomerRetail:
		if id != "" && customerType == "" {
			return Customer{}, fmt.Errorf("%w: customerType is required with customerId", ErrInvalidCustomer)
		}
		return RetailCustomer(), nil
	case CustomerMember:
		if id == "" {
			return Customer{}, fmt.Errorf("%w: member customer requires customerId", ErrInvalidCustomer)
		}
		return MemberCustomer(id), nil
	case CustomerReseller:
		if id == "" {
			return Customer{}, fmt.Errorf("%w: reseller customer requires customerId", ErrInvalidCustomer)
		}
		return ResellerCustomer(id), nil
	default:
		return Customer{}, fmt.Errorf("%w: unknown customerType %q", ErrInvalidCustomer, customerType)
	}
}

func (c Customer) IsMember() bool {
	return c.Type == CustomerMember
}

func (c Customer) IsReseller() bool {
	return c.Type == CustomerReseller
}

func (c Customer) String() string {
	if c.ID == "" {
		return string(c.Type)
	}
	return fmt.Sprintf("%s:%s", c.Type, c.ID)
}
