package handler

import (
	"strings"

	"bav/internal/bav/models"
	"bav/internal/bav/service"
	dErrors "bav/pkg/domain-errors"
)

// VerifyAccountRequest is the body of POST /verify-account.
type VerifyAccountRequest struct {
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
}

func (r *VerifyAccountRequest) Normalize() {
	r.AccountNumber = strings.TrimSpace(r.AccountNumber)
	r.SortCode = strings.TrimSpace(r.SortCode)
}

// Validate checks shape only; the session id is validated by middleware.
func (r *VerifyAccountRequest) Validate() error {
	return service.ValidateAccountDetails(r.AccountNumber, r.SortCode)
}

// StartSessionRequest is the body of POST /session. Claims arrive already
// decrypted.
type StartSessionRequest struct {
	ClientID             string              `json:"client_id"`
	GovukSigninJourneyID string              `json:"govuk_signin_journey_id"`
	SharedClaims         models.SharedClaims `json:"shared_claims"`
}

func (r *StartSessionRequest) Normalize() {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.GovukSigninJourneyID = strings.TrimSpace(r.GovukSigninJourneyID)
}

func (r *StartSessionRequest) Validate() error {
	if r.ClientID == "" {
		return dErrors.New(dErrors.CodeValidation, "Missing client_id")
	}
	if len(r.SharedClaims.Name) == 0 {
		return dErrors.New(dErrors.CodeValidation, "Missing shared_claims.name")
	}
	return nil
}

// StartSessionResponse is returned by POST /session.
type StartSessionResponse struct {
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// AuthStateRequest is the body of PUT /session/{sessionID}/auth-state.
type AuthStateRequest struct {
	State models.AuthSessionState `json:"state"`
}

func (r *AuthStateRequest) Normalize() {
	r.State = models.AuthSessionState(strings.ToUpper(strings.TrimSpace(string(r.State))))
}

func (r *AuthStateRequest) Validate() error {
	if !r.State.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "Invalid auth session state")
	}
	return nil
}
