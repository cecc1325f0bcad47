package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "bav/pkg/domain-errors"
)

func TestValidateAccountDetails(t *testing.T) {
	cases := []struct {
		name          string
		accountNumber string
		sortCode      string
		valid         bool
	}{
		{"eight digits", "12345678", "123456", true},
		{"short account number", "1", "000000", true},
		{"empty account number", "", "123456", false},
		{"nine digit account number", "123456789", "123456", false},
		{"letters in account number", "1234abcd", "123456", false},
		{"short sort code", "12345678", "12345", false},
		{"dashed sort code", "12345678", "12-34-56", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAccountDetails(tc.accountNumber, tc.sortCode)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
		})
	}
}

func TestValidateAccountRequiresSessionID(t *testing.T) {
	err := ValidateAccount("", "12345678", "123456")
	assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
	assert.NoError(t, ValidateAccount("s1", "12345678", "123456"))
}
