package moderation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shieldguard/shield/internal/moderation"
	"github.com/shieldguard/shield/internal/policy"
	"github.com/shieldguard/shield/internal/scanner"
)

var errPermission = errors.New("missing permissions")

type fakeRest struct {
	calls        []string
	deleteErr    error
	updateErr    error
	banErr       error
	memberUpdate *discord.MemberUpdate
}

func (f *fakeRest) DeleteMessage(_ snowflake.ID, _ snowflake.ID, _ ...rest.RequestOpt) error {
	f.calls = append(f.calls, "delete")
	return f.deleteErr
}

func (f *fakeRest) UpdateMember(
	_ snowflake.ID, _ snowflake.ID, update discord.MemberUpdate, _ ...rest.RequestOpt,
) (*discord.Member, error) {
	f.calls = append(f.calls, "timeout")
	f.memberUpdate = &update

	if f.updateErr != nil {
		return nil, f.updateErr
	}

	return &discord.Member{}, nil
}

func (f *fakeRest) AddBan(_ snowflake.ID, _ snowflake.ID, _ time.Duration, _ ...rest.RequestOpt) error {
	f.calls = append(f.calls, "ban")
	return f.banErr
}

func testMessage() scanner.Message {
	return scanner.Message{
		ID:        snowflake.New(time.Now()),
		GuildID:   100,
		ChannelID: 200,
		AuthorID:  300,
	}
}

func timeoutPolicy(d time.Duration) *policy.GuildPolicy {
	return &policy.GuildPolicy{
		GuildID:    100,
		Threshold:  4,
		Comparator: policy.ComparatorExact,
		Timeout:    d,
	}
}

func TestActTimeoutSuccess(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	outcome := executor.Act(context.Background(), testMessage(), timeoutPolicy(time.Hour))

	assert.True(t, outcome.Deleted)
	assert.True(t, outcome.SanctionApplied)
	assert.Equal(t, scanner.SanctionTimeout, outcome.SanctionKind)
	assert.Equal(t, time.Hour, outcome.SanctionDuration)
	assert.Empty(t, outcome.FailureReason)

	assert.Equal(t, []string{"delete", "timeout"}, restClient.calls)
	require.NotNil(t, restClient.memberUpdate)
	assert.NotNil(t, restClient.memberUpdate.CommunicationDisabledUntil)
}

func TestActDeleteFailureDoesNotBlockSanction(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{deleteErr: errPermission}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	outcome := executor.Act(context.Background(), testMessage(), timeoutPolicy(time.Hour))

	assert.False(t, outcome.Deleted)
	assert.True(t, outcome.SanctionApplied)
	assert.Contains(t, outcome.FailureReason, "delete message")
	assert.Equal(t, []string{"delete", "timeout"}, restClient.calls)
}

func TestActSanctionFailureKeepsDeletion(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{updateErr: errPermission}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	outcome := executor.Act(context.Background(), testMessage(), timeoutPolicy(time.Hour))

	assert.True(t, outcome.Deleted)
	assert.False(t, outcome.SanctionApplied)
	assert.Contains(t, outcome.FailureReason, "timeout member")
}

func TestActRecordsFirstFailure(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{deleteErr: errPermission, updateErr: errPermission}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	outcome := executor.Act(context.Background(), testMessage(), timeoutPolicy(time.Hour))

	assert.False(t, outcome.Deleted)
	assert.False(t, outcome.SanctionApplied)
	assert.Contains(t, outcome.FailureReason, "delete message")

	// Both sub-actions were still attempted.
	assert.Equal(t, []string{"delete", "timeout"}, restClient.calls)
}

func TestActBanEscalation(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	p := timeoutPolicy(time.Hour)
	p.EscalateToBan = true

	outcome := executor.Act(context.Background(), testMessage(), p)

	assert.True(t, outcome.Deleted)
	assert.True(t, outcome.SanctionApplied)
	assert.Equal(t, scanner.SanctionBan, outcome.SanctionKind)
	assert.Equal(t, []string{"delete", "ban"}, restClient.calls)
}

func TestActRejectsOverCapTimeout(t *testing.T) {
	t.Parallel()

	restClient := &fakeRest{}
	executor := moderation.NewExecutor(restClient, zap.NewNop())

	outcome := executor.Act(context.Background(), testMessage(), timeoutPolicy(29*24*time.Hour))

	assert.True(t, outcome.Deleted)
	assert.False(t, outcome.SanctionApplied)
	assert.Contains(t, outcome.FailureReason, "timeout member")

	// The REST call is never attempted with an over-cap duration.
	assert.Equal(t, []string{"delete"}, restClient.calls)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		duration time.Duration
		want     string
	}{
		{30 * time.Minute, "30 minutes"},
		{time.Minute, "1 minute"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day"},
		{26 * time.Hour, "1 day and 2 hours"},
		{73 * time.Hour, "3 days and 1 hour"},
		{48 * time.Hour, "2 days"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, moderation.FormatDuration(tt.duration))
		})
	}
}
