package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bav/internal/bav/models"
	"bav/internal/hmrc"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		accountExists string
		nameMatches   string
		expected      models.CopCheckResult
	}{
		{"yes yes", "yes", "yes", models.CopFullMatch},
		{"partial name", "yes", "partial", models.CopPartialMatch},
		{"name no", "yes", "no", models.CopNoMatch},
		{"name indeterminate", "yes", "indeterminate", models.CopNoMatch},
		{"account no", "no", "yes", models.CopNoMatch},
		{"account no partial name", "no", "partial", models.CopNoMatch},
		{"account indeterminate", "indeterminate", "yes", models.CopNoMatch},
		{"account inapplicable", "inapplicable", "yes", models.CopNoMatch},
		{"unknown values", "maybe", "perhaps", models.CopNoMatch},
		{"case sensitive", "Yes", "Yes", models.CopNoMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(&hmrc.VerifyResponse{AccountExists: tc.accountExists, NameMatches: tc.nameMatches})
			assert.Equal(t, tc.expected, got)
		})
	}

	t.Run("nil response", func(t *testing.T) {
		assert.Equal(t, models.CopNoMatch, Classify(nil))
	})
}
