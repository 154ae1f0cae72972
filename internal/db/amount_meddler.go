package db

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("amount", AmountMeddler{})
}

// AmountMeddler stores integer amounts in the smallest currency unit as canonical base-10 TEXT.
// It accepts string and *string fields; a nil *string maps to NULL.
// Writes fail for values that are not non-negative integers.
type AmountMeddler struct{}

func (AmountMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (AmountMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **string:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		value := ns.String
		*ptr = &value
	case *string:
		if !ns.Valid {
			*ptr = ""
			return nil
		}
		*ptr = ns.String
	default:
		return fmt.Errorf("expected *string or **string, got %T", fieldAddr)
	}

	return nil
}

func (AmountMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *string:
		if v == nil {
			return nil, nil
		}
		return NormalizeAmount(*v)
	case string:
		return NormalizeAmount(v)
	default:
		return nil, fmt.Errorf("expected string or *string, got %T", field)
	}
}

// NormalizeAmount parses a base-10 integer amount and returns its canonical form.
func NormalizeAmount(s string) (string, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("negative amount %q", s)
	}
	return n.String(), nil
}
