package service

import (
	"bav/internal/bav/models"
	"bav/internal/hmrc"
)

const signalYes = "yes"

// Classify maps a verify response to a CoP result. The checks run in priority
// order and anything unrecognised falls through to NO_MATCH.
func Classify(resp *hmrc.VerifyResponse) models.CopCheckResult {
	if resp == nil {
		return models.CopNoMatch
	}
	if resp.NameMatches == signalYes && resp.AccountExists == signalYes {
		return models.CopFullMatch
	}
	if resp.NameMatches == "partial" && resp.AccountExists == signalYes {
		return models.CopPartialMatch
	}
	return models.CopNoMatch
}
