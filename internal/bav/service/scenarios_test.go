package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"bav/internal/bav/models"
	"bav/internal/bav/service/mocks"
	"bav/internal/bav/store"
	"bav/internal/hmrc"
	dErrors "bav/pkg/domain-errors"
	"bav/pkg/platform/audit/publisher"
	auditmemory "bav/pkg/platform/audit/store/memory"
	"bav/pkg/requestcontext"
	"bav/pkg/testutil"
)

func TestVerificationScenarios(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newService := func(t *testing.T, sessions *store.InMemoryStore) (*Service, *mocks.MockVerifier, *mocks.MockTokenSource) {
		ctrl := gomock.NewController(t)
		verifier := mocks.NewMockVerifier(ctrl)
		tokens := mocks.NewMockTokenSource(ctrl)
		svc, err := New(sessions, verifier, tokens, publisher.NewPublisher(auditmemory.NewInMemoryStore()), WithLogger(logger))
		require.NoError(t, err)
		return svc, verifier, tokens
	}

	testutil.Given(t, "session s1 and person Jane Doe exist", func(t *testing.T) {
		sessions := store.NewInMemory()
		expiry := now.Add(time.Hour).Unix()
		require.NoError(t, sessions.CreateSession(ctx, &models.Session{SessionID: "s1", ExpiryDate: expiry}))
		require.NoError(t, sessions.SavePersonIdentity(ctx, &models.PersonIdentity{
			SessionID: "s1",
			Name: []models.Name{{NameParts: []models.NamePart{
				{Type: "GivenName", Value: "Jane"},
				{Type: "FamilyName", Value: "Doe"},
			}}},
			ExpiryDate: expiry,
		}))
		svc, verifier, tokens := newService(t, sessions)

		testutil.When(t, "a seven digit account is verified and HMRC answers yes/yes", func(t *testing.T) {
			tokens.EXPECT().Token(gomock.Any()).Return("tkn", nil)
			verifier.EXPECT().Verify(gomock.Any(), hmrc.VerifyRequest{
				AccountNumber: "01234567",
				SortCode:      "123456",
				Name:          "Jane Doe",
			}, "tkn").Return(&hmrc.VerifyResponse{NameMatches: "yes", AccountExists: "yes"}, nil)

			result, err := svc.ProcessVerification(ctx, "s1", "1234567", "123456")

			testutil.Then(t, "the request succeeds with FULL_MATCH", func(t *testing.T) {
				require.NoError(t, err)
				assert.Equal(t, models.CopFullMatch, result)
			})

			testutil.Then(t, "the padded account and the outcome are persisted", func(t *testing.T) {
				person, err := sessions.GetPersonIdentityByID(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, "01234567", person.AccountNumber)
				assert.Equal(t, "123456", person.SortCode)

				session, err := sessions.GetSessionByID(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, models.CopFullMatch, session.CopCheckResult)
			})
		})
	})

	testutil.Given(t, "session s2 exists without a person", func(t *testing.T) {
		sessions := store.NewInMemory()
		require.NoError(t, sessions.CreateSession(ctx, &models.Session{SessionID: "s2", ExpiryDate: now.Add(time.Hour).Unix()}))
		// no expectations: any verifier or token call fails the test
		svc, _, _ := newService(t, sessions)

		testutil.When(t, "verification is attempted", func(t *testing.T) {
			_, err := svc.ProcessVerification(ctx, "s2", "12345678", "123456")

			testutil.Then(t, "it fails as not found before HMRC is called", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
			})
		})
	})

	testutil.Given(t, "a session whose expiry equals now", func(t *testing.T) {
		sessions := store.NewInMemory()
		require.NoError(t, sessions.CreateSession(ctx, &models.Session{SessionID: "s3", ExpiryDate: now.Unix()}))
		require.NoError(t, sessions.SavePersonIdentity(ctx, &models.PersonIdentity{SessionID: "s3", ExpiryDate: now.Add(time.Hour).Unix()}))
		svc, _, _ := newService(t, sessions)

		testutil.When(t, "verification is attempted", func(t *testing.T) {
			_, err := svc.ProcessVerification(ctx, "s3", "12345678", "123456")

			testutil.Then(t, "the session reads as expired", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
			})
		})
	})
}
