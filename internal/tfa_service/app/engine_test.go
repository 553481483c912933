package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/threemagw/golang_services/internal/core_domain"
	"github.com/threemagw/golang_services/internal/tfa_service/domain"
	"github.com/threemagw/golang_services/internal/tfa_service/repository/memory"
)

type MockTextSender struct {
	mock.Mock
}

func (m *MockTextSender) SendText(ctx context.Context, identity, text string) (string, error) {
	args := m.Called(ctx, identity, text)
	return args.String(0), args.Error(1)
}

type MockAbuseHook struct {
	mock.Mock
}

func (m *MockAbuseHook) OnDeclined(ctx context.Context, subjectID string, info domain.DeclineContext) error {
	args := m.Called(ctx, subjectID, info)
	return args.Error(0)
}

type engineFixture struct {
	engine   *ConfirmationEngine
	states   *memory.ProviderStateRepository
	pending  *memory.ConfirmationStore
	sessions *memory.SetupSessionStore
	sender   *MockTextSender
	abuse    *MockAbuseHook
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		states:   memory.NewProviderStateRepository(),
		pending:  memory.NewConfirmationStore(),
		sessions: memory.NewSetupSessionStore(),
		sender:   new(MockTextSender),
		abuse:    new(MockAbuseHook),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	secrets := []string{"123456", "654321", "111111"}
	f.engine = NewConfirmationEngine(
		EngineConfig{
			ProviderID:   "message_confirm",
			SecretLength: 6,
			LoginWindow:  3 * time.Minute,
			SetupWindow:  10 * time.Minute,
		},
		f.states, f.pending, f.sessions, f.sender, f.abuse,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	)
	f.engine.now = func() time.Time { return f.now }
	f.engine.newSecret = func(length int) (string, error) {
		require.Equal(t, 6, length)
		secret := secrets[0]
		if len(secrets) > 1 {
			secrets = secrets[1:]
		}
		return secret, nil
	}
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *engineFixture) activeState(t *testing.T, userID, subjectID string) {
	t.Helper()
	require.NoError(t, f.states.Save(context.Background(), &domain.TfaProviderState{
		UserID:    userID,
		SubjectID: subjectID,
		Status:    domain.StatusActive,
	}))
}

const subject = "ECHOECHO"

func TestTriggerVerification_LoginRequiresActiveProvider(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.TriggerVerification(context.Background(), subject, "42", "sess", domain.PurposeLogin)

	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationMismatch, core_domain.KindOf(err))
	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestTriggerVerification_RejectsInvalidSubject(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.TriggerVerification(context.Background(), "*GATEWAY", "42", "sess", domain.PurposeLogin)

	require.Error(t, err)
	assert.Equal(t, core_domain.KindMalformedRequest, core_domain.KindOf(err))
}

func TestTriggerVerification_SendsSecretAndRegistersPending(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.MatchedBy(func(text string) bool {
		return len(text) > 0
	})).Return("00112233aabbccdd", nil).Once()

	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	f.sender.AssertExpectations(t)
	sentText := f.sender.Calls[0].Arguments.String(2)
	assert.Contains(t, sentText, "123456")
	assert.NotContains(t, sentText, "654321")

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "00112233aabbccdd", record.CorrelationData)
	assert.Equal(t, f.now.Add(3*time.Minute), record.ExpiresAt)

	state, err := f.states.LoadBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, "123456", state.Secret)
	assert.Equal(t, 180, state.ValidationWindowSeconds)
}

func TestTriggerVerification_SendFailureIsRetryable(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).
		Return("", errors.New("gateway unreachable")).Once()

	err := f.engine.TriggerVerification(context.Background(), subject, "42", "sess", domain.PurposeLogin)

	require.Error(t, err)
	assert.True(t, core_domain.IsRetryable(err))
}

func TestVerify_SuccessConsumesSecret(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	require.NoError(t, f.engine.Verify(ctx, subject, "123456", f.now.Add(10*time.Second)))

	state, err := f.states.LoadBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Empty(t, state.Secret)
	assert.True(t, state.SecretGeneratedAt.IsZero())
	assert.Equal(t, "123456", state.LastSecret)

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	assert.Nil(t, record, "pending confirmation should be consumed")
}

func TestVerify_ReplayedCodeInsideWindowIsRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	require.NoError(t, f.engine.Verify(ctx, subject, "123456", f.now.Add(10*time.Second)))

	err := f.engine.Verify(ctx, subject, "123456", f.now.Add(20*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationReplayed, core_domain.KindOf(err))
	assert.Equal(t, core_domain.GenericVerificationFailure, core_domain.UserFacingMessage(err))
}

func TestVerify_ExpiredSecretIsConsumed(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	err := f.engine.Verify(ctx, subject, "123456", f.now.Add(181*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationExpired, core_domain.KindOf(err))

	// The expired secret was consumed, so the same code now fails as
	// absent rather than expired.
	err = f.engine.Verify(ctx, subject, "123456", f.now.Add(182*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationMismatch, core_domain.KindOf(err))
}

func TestVerify_WrongCodeKeepsSecretAlive(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	err := f.engine.Verify(ctx, subject, "999999", f.now.Add(10*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationMismatch, core_domain.KindOf(err))

	require.NoError(t, f.engine.Verify(ctx, subject, "123456", f.now.Add(20*time.Second)),
		"a wrong attempt must not consume the live secret")
}

func TestVerify_AllFailuresShareGenericUserMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil)

	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))
	wrongErr := f.engine.Verify(ctx, subject, "999999", f.now.Add(time.Second))
	expiredErr := f.engine.Verify(ctx, subject, "123456", f.now.Add(time.Hour))
	absentErr := f.engine.Verify(ctx, subject, "123456", f.now.Add(time.Hour))

	for _, err := range []error{wrongErr, expiredErr, absentErr} {
		require.Error(t, err)
		assert.Equal(t, core_domain.GenericVerificationFailure, core_domain.UserFacingMessage(err))
	}
}

func TestTriggerVerification_SupersedesEarlierChallenge(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("8899aabb00112233", nil).Once()

	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	// The first secret is gone.
	err := f.engine.Verify(ctx, subject, "123456", f.now.Add(10*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationMismatch, core_domain.KindOf(err))

	require.NoError(t, f.engine.Verify(ctx, subject, "654321", f.now.Add(20*time.Second)))

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestOnDeliveryReceipt_DeclineInvokesAbuseHookOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	f.abuse.On("OnDeclined", mock.Anything, subject, mock.MatchedBy(func(info domain.DeclineContext) bool {
		return info.OwnerUserID == "42" && info.Purpose == domain.PurposeLogin
	})).Return(nil).Once()

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType:     core_domain.ReceiptTypeDecline,
		AckedMessageIDs: []string{"00112233aabbccdd"},
	}
	require.NoError(t, f.engine.OnDeliveryReceipt(ctx, receipt, subject))

	f.abuse.AssertExpectations(t)
	f.abuse.AssertNumberOfCalls(t, "OnDeclined", 1)

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	assert.Nil(t, record)

	// The caller sees the same failure as a timeout would produce.
	err = f.engine.Verify(ctx, subject, "123456", f.now.Add(10*time.Second))
	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationMismatch, core_domain.KindOf(err))
	assert.Equal(t, core_domain.GenericVerificationFailure, core_domain.UserFacingMessage(err))
}

func TestOnDeliveryReceipt_DeclineSurvivesAbuseHookFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	f.abuse.On("OnDeclined", mock.Anything, subject, mock.Anything).
		Return(errors.New("hook unavailable")).Once()

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType:     core_domain.ReceiptTypeDecline,
		AckedMessageIDs: []string{"00112233aabbccdd"},
	}
	require.NoError(t, f.engine.OnDeliveryReceipt(ctx, receipt, subject))

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	assert.Nil(t, record, "pending record is removed even when the hook fails")
}

func TestOnDeliveryReceipt_ConfirmRecordsCorrelation(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType:     core_domain.ReceiptTypeConfirm,
		AckedMessageIDs: []string{"00112233aabbccdd"},
	}
	require.NoError(t, f.engine.OnDeliveryReceipt(ctx, receipt, subject))

	state, err := f.states.LoadBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, "00112233aabbccdd", state.ReceivedCode)
	assert.Equal(t, core_domain.ReceiptTypeConfirm, state.ReceivedReceiptType)
}

func TestOnDeliveryReceipt_UnrelatedAckIsIgnored(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType:     core_domain.ReceiptTypeDecline,
		AckedMessageIDs: []string{"ffffffffffffffff"},
	}
	require.NoError(t, f.engine.OnDeliveryReceipt(ctx, receipt, subject))

	f.abuse.AssertNotCalled(t, "OnDeclined", mock.Anything, mock.Anything, mock.Anything)

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	require.NotNil(t, record, "unrelated acks must not consume the pending record")
}

func TestOnDeliveryReceipt_ExpiredPendingIsReaped(t *testing.T) {
	f := newEngineFixture(t)
	f.activeState(t, "42", subject)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.TriggerVerification(ctx, subject, "42", "sess", domain.PurposeLogin))

	f.now = f.now.Add(4 * time.Minute)

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType:     core_domain.ReceiptTypeDecline,
		AckedMessageIDs: []string{"00112233aabbccdd"},
	}
	require.NoError(t, f.engine.OnDeliveryReceipt(ctx, receipt, subject))

	f.abuse.AssertNotCalled(t, "OnDeclined", mock.Anything, mock.Anything, mock.Anything)

	record, err := f.pending.Find(ctx, domain.ConfirmationKey{
		SubjectID: subject, ProviderID: "message_confirm", Purpose: domain.PurposeLogin,
	})
	require.NoError(t, err)
	assert.Nil(t, record, "expired record is removed on contact")
}

func TestSetupFlow_BeginAndConfirmActivatesProvider(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()

	require.NoError(t, f.engine.BeginSetup(ctx, "42", "sess-1", subject))

	state, err := f.states.LoadBySubject(ctx, subject)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusPending, state.Status)
	assert.Equal(t, 600, state.ValidationWindowSeconds)

	require.NoError(t, f.engine.ConfirmSetup(ctx, "42", "123456", f.now.Add(time.Minute)))

	state, err = f.states.LoadBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, state.Status)

	session, err := f.sessions.Find(ctx, domain.SessionKey{UserID: "42", ProviderID: "message_confirm"})
	require.NoError(t, err)
	assert.Nil(t, session, "setup session is removed after confirmation")
}

func TestConfirmSetup_WithoutSessionFails(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.ConfirmSetup(context.Background(), "42", "123456", f.now)

	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationExpired, core_domain.KindOf(err))
}

func TestConfirmSetup_ExpiredSessionFails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, subject, mock.Anything).Return("00112233aabbccdd", nil).Once()
	require.NoError(t, f.engine.BeginSetup(ctx, "42", "sess-1", subject))

	err := f.engine.ConfirmSetup(ctx, "42", "123456", f.now.Add(11*time.Minute))

	require.Error(t, err)
	assert.Equal(t, core_domain.KindConfirmationExpired, core_domain.KindOf(err))

	session, err := f.sessions.Find(ctx, domain.SessionKey{UserID: "42", ProviderID: "message_confirm"})
	require.NoError(t, err)
	assert.Nil(t, session)
}
