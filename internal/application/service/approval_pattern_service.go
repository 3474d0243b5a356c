package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// ApprovalPatternService records approval observations and summarises them.
// It implements output.PatternRecorder.
type ApprovalPatternService struct {
	repo   repository.ApprovalPatternRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewApprovalPatternService creates a new approval pattern service
func NewApprovalPatternService(repo repository.ApprovalPatternRepository, logger *zap.Logger) *ApprovalPatternService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalPatternService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ output.PatternRecorder = (*ApprovalPatternService)(nil)

// Record stores one observation
func (s *ApprovalPatternService) Record(ctx context.Context, obs output.ApprovalObservation) error {
	if strings.TrimSpace(obs.Category) == "" {
		return errors.New("approval observation requires a category")
	}
	if obs.MinutesToDecision < 0 {
		obs.MinutesToDecision = 0
	}

	p := &repository.ApprovalPattern{
		ID:                model.NewID(model.PrefixPattern),
		Category:          NormalizeLabel(obs.Category),
		Approach:          NormalizeLabel(obs.Approach),
		Approved:          obs.Approved,
		MinutesToDecision: obs.MinutesToDecision,
		RejectionReason:   strings.TrimSpace(obs.RejectionReason),
		ProjectID:         obs.ProjectID,
		RecordedAt:        s.now(),
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return fmt.Errorf("record approval pattern: %w", err)
	}

	s.logger.Debug("approval pattern recorded",
		zap.String("pattern_id", p.ID),
		zap.String("category", p.Category),
		zap.String("approach", p.Approach),
		zap.Bool("approved", p.Approved))
	return nil
}

// NormalizeLabel folds width and case so "Token Bucket" and "ｔｏｋｅｎ bucket" group together
func NormalizeLabel(label string) string {
	label = norm.NFKC.String(label)
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// ApproachStats summarises the observations of one approach
type ApproachStats struct {
	Approach     string  `json:"approach"`
	Total        int     `json:"total"`
	Approved     int     `json:"approved"`
	ApprovalRate float64 `json:"approval_rate"`
	MeanMinutes  float64 `json:"mean_minutes"`
}

// PatternStats summarises the observations of one category
type PatternStats struct {
	Category     string          `json:"category"`
	Total        int             `json:"total"`
	Approved     int             `json:"approved"`
	ApprovalRate float64         `json:"approval_rate"`
	MeanMinutes  float64         `json:"mean_minutes"`
	Approaches   []ApproachStats `json:"approaches"`
	// TopRejections lists the most frequent rejection reasons, most frequent first
	TopRejections []string `json:"top_rejections,omitempty"`
}

const maxTopRejections = 3

// Stats aggregates the observations of a category. An empty category covers all.
func (s *ApprovalPatternService) Stats(ctx context.Context, category string) (*PatternStats, error) {
	patterns, err := s.repo.List(ctx, repository.ApprovalPatternFilter{Category: NormalizeLabel(category)})
	if err != nil {
		return nil, fmt.Errorf("list approval patterns: %w", err)
	}

	stats := &PatternStats{Category: NormalizeLabel(category)}
	byApproach := map[string]*ApproachStats{}
	var order []string
	var minutes float64
	reasons := map[string]int{}
	var reasonOrder []string

	for _, p := range patterns {
		stats.Total++
		minutes += p.MinutesToDecision

		a, ok := byApproach[p.Approach]
		if !ok {
			a = &ApproachStats{Approach: p.Approach}
			byApproach[p.Approach] = a
			order = append(order, p.Approach)
		}
		a.Total++
		a.MeanMinutes += p.MinutesToDecision

		if p.Approved {
			stats.Approved++
			a.Approved++
		} else if p.RejectionReason != "" {
			if reasons[p.RejectionReason] == 0 {
				reasonOrder = append(reasonOrder, p.RejectionReason)
			}
			reasons[p.RejectionReason]++
		}
	}

	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.Total)
		stats.MeanMinutes = minutes / float64(stats.Total)
	}
	for _, name := range order {
		a := byApproach[name]
		a.ApprovalRate = float64(a.Approved) / float64(a.Total)
		a.MeanMinutes /= float64(a.Total)
		stats.Approaches = append(stats.Approaches, *a)
	}
	stats.TopRejections = topReasons(reasonOrder, reasons, maxTopRejections)
	return stats, nil
}

// topReasons orders by count descending; ties keep first-seen order
func topReasons(order []string, counts map[string]int, n int) []string {
	sorted := append([]string(nil), order...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && counts[sorted[j]] > counts[sorted[j-1]]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
