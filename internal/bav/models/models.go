// Package models holds the session and person-identity records shared by the
// store, the verification service and the session service.
package models

import (
	"strings"
	"time"
)

// CopCheckResult is the tri-state outcome of a Confirmation-of-Payee check.
type CopCheckResult string

const (
	CopFullMatch    CopCheckResult = "FULL_MATCH"
	CopPartialMatch CopCheckResult = "PARTIAL_MATCH"
	CopNoMatch      CopCheckResult = "NO_MATCH"
)

// IsValid reports whether r is one of the three known outcomes.
func (r CopCheckResult) IsValid() bool {
	switch r {
	case CopFullMatch, CopPartialMatch, CopNoMatch:
		return true
	}
	return false
}

// AuthSessionState tracks where a session is in the credential-issuer flow.
type AuthSessionState string

const (
	AuthSessionCreated    AuthSessionState = "BAV_SESSION_CREATED"
	AuthAuthCodeIssued    AuthSessionState = "BAV_AUTH_CODE_ISSUED"
	AuthAccessTokenIssued AuthSessionState = "BAV_ACCESS_TOKEN_ISSUED"
	AuthCRISessionAborted AuthSessionState = "BAV_CRI_SESSION_ABORTED"
)

func (s AuthSessionState) IsValid() bool {
	switch s {
	case AuthSessionCreated, AuthAuthCodeIssued, AuthAccessTokenIssued, AuthCRISessionAborted:
		return true
	}
	return false
}

// Session is one in-progress verification attempt. Dates are epoch seconds.
type Session struct {
	SessionID           string           `json:"sessionId"`
	ClientID            string           `json:"clientId"`
	ClientSessionID     string           `json:"clientSessionId"`
	RedirectURI         string           `json:"redirectUri"`
	State               string           `json:"state"`
	Subject             string           `json:"subject"`
	PersistentSessionID string           `json:"persistentSessionId"`
	ClientIPAddress     string           `json:"clientIpAddress"`
	AuthSessionState    AuthSessionState `json:"authSessionState"`
	CopCheckResult      CopCheckResult   `json:"copCheckResult,omitempty"`
	AttemptCount        int              `json:"attemptCount"`
	CreatedDate         int64            `json:"createdDate"`
	ExpiryDate          int64            `json:"expiryDate"`
}

// NamePart is one component of a name, e.g. {GivenName, Jane}.
type NamePart struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Name is an ordered group of name parts.
type Name struct {
	NameParts []NamePart `json:"nameParts"`
}

type BirthDate struct {
	Value string `json:"value"`
}

// PersonIdentity is the claimed identity tied one-to-one to a Session.
type PersonIdentity struct {
	SessionID     string      `json:"sessionId"`
	Name          []Name      `json:"name"`
	BirthDate     []BirthDate `json:"birthDate"`
	AccountNumber string      `json:"accountNumber,omitempty"`
	SortCode      string      `json:"sortCode,omitempty"`
	CreatedDate   int64       `json:"createdDate"`
	ExpiryDate    int64       `json:"expiryDate"`
}

// FullName joins every non-empty name-part value in order, separated by single spaces.
func (p PersonIdentity) FullName() string {
	var parts []string
	for _, name := range p.Name {
		for _, part := range name.NameParts {
			if v := strings.TrimSpace(part.Value); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

// SharedClaims is the already-decrypted identity handed over when a session starts.
type SharedClaims struct {
	Subject             string      `json:"sub"`
	State               string      `json:"state"`
	RedirectURI         string      `json:"redirect_uri"`
	PersistentSessionID string      `json:"persistent_session_id"`
	Name                []Name      `json:"name"`
	BirthDate           []BirthDate `json:"birthDate"`
}

// AccountNumberLength is the canonical account number width.
const AccountNumberLength = 8

// PadAccountNumber left-pads with zeros to eight digits. Longer input is returned unchanged.
func PadAccountNumber(accountNumber string) string {
	if len(accountNumber) >= AccountNumberLength {
		return accountNumber
	}
	return strings.Repeat("0", AccountNumberLength-len(accountNumber)) + accountNumber
}

// IsExpired treats a record whose expiry equals now as expired.
func IsExpired(expiryDate int64, now time.Time) bool {
	return expiryDate <= now.Unix()
}
