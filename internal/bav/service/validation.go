package service

import (
	"bav/internal/bav/models"
	dErrors "bav/pkg/domain-errors"
	bavstrings "bav/pkg/platform/strings"
)

// SortCodeLength is the fixed sort code width.
const SortCodeLength = 6

// ValidateAccount checks the verification input shape.
func ValidateAccount(sessionID, accountNumber, sortCode string) error {
	if sessionID == "" {
		return dErrors.New(dErrors.CodeValidation, "Missing session id")
	}
	return ValidateAccountDetails(accountNumber, sortCode)
}

// ValidateAccountDetails checks the account number and sort code only.
func ValidateAccountDetails(accountNumber, sortCode string) error {
	if accountNumber == "" || len(accountNumber) > models.AccountNumberLength || !bavstrings.IsDigits(accountNumber) {
		return dErrors.New(dErrors.CodeValidation, "Invalid account_number: must be up to 8 digits")
	}
	if len(sortCode) != SortCodeLength || !bavstrings.IsDigits(sortCode) {
		return dErrors.New(dErrors.CodeValidation, "Invalid sort_code: must be exactly 6 digits")
	}
	return nil
}
