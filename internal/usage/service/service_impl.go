package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tallyhq/tally/internal/config"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	obsmetrics "github.com/tallyhq/tally/internal/observability/metrics"
	usagedomain "github.com/tallyhq/tally/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Ledger     ledgerdomain.Service
	Pricing    *config.PricingConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledger     ledgerdomain.Service
	pricing    *config.PricingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Charge(ctx context.Context, req usagedomain.ChargeRequest) (usagedomain.ChargeResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return usagedomain.ChargeResult{}, usagedomain.ErrInvalidUser
	}
	operation := strings.TrimSpace(req.Operation)
	if operation == "" {
		return usagedomain.ChargeResult{}, usagedomain.ErrInvalidOperation
	}
	if req.Units <= 0 {
		return usagedomain.ChargeResult{}, usagedomain.ErrInvalidUnits
	}

	unitPrice, err := s.resolveUnitPrice(operation, req.UnitPrice)
	if err != nil {
		return usagedomain.ChargeResult{}, err
	}

	// Cost in minor units, rounded half away from zero so fractional unit
	// prices never leak sub-cent balances.
	totalCost := int64(math.Round(float64(req.Units) * unitPrice * 100))

	metadata := map[string]any{
		"operation":  operation,
		"units":      req.Units,
		"unit_price": unitPrice,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	balance, err := s.ledger.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID:   userID,
		Delta:    -totalCost,
		Actor:    strings.TrimSpace(req.Actor),
		Reason:   ledgerdomain.ReasonUsageDeduction,
		Metadata: metadata,
	})
	if err != nil {
		if s.obsMetrics != nil && errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			s.obsMetrics.RecordInsufficientFunds(ctx, operation)
		}
		return usagedomain.ChargeResult{Balance: balance}, err
	}

	logEntry := usagedomain.UsageLog{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Operation: operation,
		Units:     req.Units,
		UnitPrice: unitPrice,
		TotalCost: totalCost,
		CreatedAt: time.Now().UTC(),
	}
	if req.Metadata != nil {
		logEntry.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := s.db.WithContext(ctx).Create(&logEntry).Error; err != nil {
		// The charge already landed in the ledger; losing the usage log
		// costs reporting fidelity, not money. Never reverse here.
		s.log.Error("usage log append failed after successful charge",
			zap.String("user_id", userID),
			zap.String("operation", operation),
			zap.Int64("total_cost", totalCost),
			zap.Error(err),
		)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageCharge(ctx, operation)
	}
	return usagedomain.ChargeResult{TotalCost: totalCost, Balance: balance}, nil
}

func (s *Service) resolveUnitPrice(operation string, override *float64) (float64, error) {
	if override != nil {
		if *override < 0 {
			return 0, usagedomain.ErrInvalidUnitPrice
		}
		return *override, nil
	}
	price, ok := s.pricing.Get().DefaultUnitPrices[operation]
	if !ok {
		return 0, usagedomain.ErrUnknownOperation
	}
	return price, nil
}

func (s *Service) List(ctx context.Context, filter usagedomain.ListFilter) ([]usagedomain.UsageLog, error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if operation := strings.TrimSpace(filter.Operation); operation != "" {
		query = query.Where("operation = ?", operation)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}

	var logs []usagedomain.UsageLog
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Service) Report(ctx context.Context, userID string, from, to time.Time) (usagedomain.Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.Report{}, usagedomain.ErrInvalidUser
	}

	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageLog{}).
		Where("user_id = ?", userID)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to)
	}

	var rows []usagedomain.ReportRow
	err := query.
		Select("operation, SUM(units) AS total_units, SUM(total_cost) AS total_cost, COUNT(*) AS events").
		Group("operation").
		Order("operation ASC").
		Scan(&rows).Error
	if err != nil {
		return usagedomain.Report{}, err
	}

	report := usagedomain.Report{
		UserID: userID,
		From:   from,
		To:     to,
		Rows:   rows,
	}
	for _, row := range rows {
		report.TotalCost += row.TotalCost
	}
	return report, nil
}
