package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/repository/mock"
)

type failingPatternRepo struct{}

func (failingPatternRepo) Save(ctx context.Context, p *repository.ApprovalPattern) error {
	return errors.New("database is locked")
}

func (failingPatternRepo) List(ctx context.Context, f repository.ApprovalPatternFilter) ([]*repository.ApprovalPattern, error) {
	return nil, errors.New("database is locked")
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Token Bucket", "token bucket"},
		{"  token   bucket  ", "token bucket"},
		{"ｔｏｋｅｎ　ｂｕｃｋｅｔ", "token bucket"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLabel(tt.in))
		})
	}
}

func TestApprovalPatternService_Record(t *testing.T) {
	repo := mock.NewMockApprovalPatternRepository()
	svc := NewApprovalPatternService(repo, zap.NewNop())
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := svc.Record(context.Background(), output.ApprovalObservation{
		Category:          "feature",
		Approach:          "Token  Bucket",
		Approved:          false,
		MinutesToDecision: 12.5,
		RejectionReason:   " too coarse ",
		ProjectID:         "acme/api",
	})
	require.NoError(t, err)

	saved, err := repo.List(context.Background(), repository.ApprovalPatternFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	p := saved[0]
	assert.Contains(t, p.ID, "PAT-")
	assert.Equal(t, "token bucket", p.Approach)
	assert.Equal(t, "too coarse", p.RejectionReason)
	assert.Equal(t, fixed, p.RecordedAt)
	assert.False(t, p.Approved)
}

func TestApprovalPatternService_RecordValidation(t *testing.T) {
	svc := NewApprovalPatternService(mock.NewMockApprovalPatternRepository(), nil)

	err := svc.Record(context.Background(), output.ApprovalObservation{Approach: "x"})
	assert.Error(t, err)
}

func TestApprovalPatternService_RecordStoreFailure(t *testing.T) {
	svc := NewApprovalPatternService(failingPatternRepo{}, nil)

	err := svc.Record(context.Background(), output.ApprovalObservation{Category: "feature", Approach: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record approval pattern")
}

func TestApprovalPatternService_Stats(t *testing.T) {
	svc := NewApprovalPatternService(mock.NewMockApprovalPatternRepository(), nil)
	ctx := context.Background()

	observations := []output.ApprovalObservation{
		{Category: "feature", Approach: "token bucket", Approved: true, MinutesToDecision: 10},
		{Category: "feature", Approach: "Token Bucket", Approved: false, MinutesToDecision: 20, RejectionReason: "no burst handling"},
		{Category: "feature", Approach: "sliding window", Approved: false, MinutesToDecision: 30, RejectionReason: "no burst handling"},
		{Category: "feature", Approach: "sliding window", Approved: false, MinutesToDecision: 40, RejectionReason: "too complex"},
		{Category: "bugfix", Approach: "patch", Approved: true, MinutesToDecision: 1},
	}
	for _, obs := range observations {
		require.NoError(t, svc.Record(ctx, obs))
	}

	stats, err := svc.Stats(ctx, "Feature")
	require.NoError(t, err)
	assert.Equal(t, "feature", stats.Category)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.InDelta(t, 0.25, stats.ApprovalRate, 0.0001)
	assert.InDelta(t, 25.0, stats.MeanMinutes, 0.0001)

	require.Len(t, stats.Approaches, 2)
	assert.Equal(t, "token bucket", stats.Approaches[0].Approach)
	assert.Equal(t, 2, stats.Approaches[0].Total)
	assert.InDelta(t, 0.5, stats.Approaches[0].ApprovalRate, 0.0001)
	assert.InDelta(t, 15.0, stats.Approaches[0].MeanMinutes, 0.0001)
	assert.InDelta(t, 0.0, stats.Approaches[1].ApprovalRate, 0.0001)

	assert.Equal(t, []string{"no burst handling", "too complex"}, stats.TopRejections)

	all, err := svc.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)
}

func TestApprovalPatternService_StatsEmpty(t *testing.T) {
	svc := NewApprovalPatternService(mock.NewMockApprovalPatternRepository(), nil)

	stats, err := svc.Stats(context.Background(), "docs")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.ApprovalRate)
	assert.Empty(t, stats.Approaches)
}

func TestApprovalPatternService_StatsStoreFailure(t *testing.T) {
	svc := NewApprovalPatternService(failingPatternRepo{}, nil)

	_, err := svc.Stats(context.Background(), "feature")
	assert.Error(t, err)
}
