package orders

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Money is a decimal amount. It is stored as a DynamoDB number, a SQL
// NUMERIC and a bare JSON number, so 9.97 never becomes 9.969999.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps d as a Money.
func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

// ParseMoney parses a decimal string such as "3.99".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Decimal: d}, nil
}

// MustMoney is ParseMoney for constants; it panics on bad input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{Decimal: m.Decimal.Add(o.Decimal)} }

// Mul returns m times the item quantity n.
func (m Money) Mul(n int) Money { return Money{Decimal: m.Decimal.Mul(decimal.NewFromInt(int64(n)))} }

// Equal compares amounts numerically, so 9.97 equals 9.970.
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }

func (m Money) IsNegative() bool { return m.Decimal.IsNegative() }

// MarshalJSON writes the amount without quotes.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.Decimal.String()}, nil
}

func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute value %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Decimal = d
	return nil
}
