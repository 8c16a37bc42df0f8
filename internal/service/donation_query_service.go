package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/models"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/export"
)

const exportPageSize = 100

type donationGetter interface {
	GetByID(ctx context.Context, id string) (*models.Donation, error)
}

type donationReader interface {
	donationGetter
	List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, int, error)
}

type attachmentLister interface {
	ListFor(ctx context.Context, donationID string) ([]models.Attachment, error)
	WithDownloadURL(attachment models.Attachment) (dto.AttachmentResponse, error)
}

type auditHistory interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// DonationQueryConfig tunes read paths. Cached details embed signed download
// URLs, so CacheTTL is kept below SignedURLTTL.
type DonationQueryConfig struct {
	CacheTTL      time.Duration
	SignedURLTTL  time.Duration
	MaxExportRows int
}

// DonationQueryService serves the read side of the donation workflow.
type DonationQueryService struct {
	repo        donationReader
	attachments attachmentLister
	history     auditHistory
	cache       *CacheService
	csv         csvRenderer
	logger      *zap.Logger
	cfg         DonationQueryConfig
}

// NewDonationQueryService constructs the query service.
func NewDonationQueryService(repo donationReader, attachments attachmentLister, history auditHistory, cache *CacheService, csv csvRenderer, logger *zap.Logger, cfg DonationQueryConfig) *DonationQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if cfg.MaxExportRows <= 0 {
		cfg.MaxExportRows = 10000
	}
	if cfg.SignedURLTTL > 0 && (cfg.CacheTTL <= 0 || cfg.CacheTTL >= cfg.SignedURLTTL) {
		logger.Warn("donation detail cache ttl clamped below signed url ttl",
			zap.Duration("cache_ttl", cfg.CacheTTL), zap.Duration("signed_url_ttl", cfg.SignedURLTTL))
		cfg.CacheTTL = cfg.SignedURLTTL / 2
	}
	return &DonationQueryService{repo: repo, attachments: attachments, history: history, cache: cache, csv: csv, logger: logger, cfg: cfg}
}

// Get returns the donation with attachments, timeline and permitted actions.
// The boolean reports whether the result came from cache.
func (s *DonationQueryService) Get(ctx context.Context, id string) (*dto.DonationDetail, bool, error) {
	key := donationDetailCacheKey(id)
	var cached dto.DonationDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	donation, err := loadDonation(ctx, s.repo, id)
	if err != nil {
		return nil, false, err
	}
	attachments, err := s.attachments.ListFor(ctx, id)
	if err != nil {
		return nil, false, err
	}
	views := make([]dto.AttachmentResponse, 0, len(attachments))
	for _, attachment := range attachments {
		view, err := s.attachments.WithDownloadURL(attachment)
		if err != nil {
			s.logger.Warn("failed to sign attachment url", zap.String("attachment_id", attachment.ID), zap.Error(err))
		}
		views = append(views, view)
	}

	actions := models.AvailableActions(donation)
	detail := &dto.DonationDetail{
		Donation:         donation,
		Attachments:      views,
		Timeline:         BuildTimeline(donation),
		AvailableActions: actions,
	}
	_ = s.cache.Set(ctx, key, detail, s.cfg.CacheTTL)
	return detail, false, nil
}

// Timeline returns only the milestone list of a donation.
func (s *DonationQueryService) Timeline(ctx context.Context, id string) ([]models.TimelineEntry, error) {
	donation, err := loadDonation(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(donation), nil
}

// Attachments lists a donation's evidence with signed download URLs.
func (s *DonationQueryService) Attachments(ctx context.Context, id string) ([]dto.AttachmentResponse, error) {
	if _, err := loadDonation(ctx, s.repo, id); err != nil {
		return nil, err
	}
	attachments, err := s.attachments.ListFor(ctx, id)
	if err != nil {
		return nil, err
	}
	views := make([]dto.AttachmentResponse, 0, len(attachments))
	for _, attachment := range attachments {
		view, err := s.attachments.WithDownloadURL(attachment)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// History returns the audit trail of a donation, newest first.
func (s *DonationQueryService) History(ctx context.Context, id string, limit int) ([]dto.AuditEntry, error) {
	if _, err := loadDonation(ctx, s.repo, id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []dto.AuditEntry{}, nil
	}
	logs, err := s.history.ListByResource(ctx, "donation", id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load donation history")
	}
	entries := make([]dto.AuditEntry, 0, len(logs))
	for _, log := range logs {
		entries = append(entries, dto.NewAuditEntry(log))
	}
	return entries, nil
}

// List returns a filtered page of donations.
func (s *DonationQueryService) List(ctx context.Context, query dto.DonationQuery) ([]models.Donation, *models.Pagination, error) {
	filter, err := buildDonationFilter(query)
	if err != nil {
		return nil, nil, err
	}
	donations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list donations")
	}
	if donations == nil {
		donations = []models.Donation{}
	}
	return donations, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ExportCSV renders every donation matching the filter as CSV.
func (s *DonationQueryService) ExportCSV(ctx context.Context, query dto.DonationQuery) ([]byte, error) {
	filter, err := buildDonationFilter(query)
	if err != nil {
		return nil, err
	}
	filter.PageSize = exportPageSize

	dataset := export.Dataset{Headers: donationExportHeaders}
	for page := 1; ; page++ {
		filter.Page = page
		donations, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load donations for export")
		}
		for i := range donations {
			dataset.Rows = append(dataset.Rows, donationExportRow(&donations[i]))
		}
		if len(dataset.Rows) > s.cfg.MaxExportRows {
			return nil, appErrors.Clone(appErrors.ErrValidation, "export exceeds the row limit, narrow the filter")
		}
		if len(donations) < filter.PageSize || page*filter.PageSize >= total {
			break
		}
	}

	content, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return content, nil
}

// loadDonation fetches a donation, mapping a missing row to NotFound.
func loadDonation(ctx context.Context, repo donationGetter, id string) (*models.Donation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "donation id is required")
	}
	donation, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "donation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load donation")
	}
	return donation, nil
}

func buildDonationFilter(query dto.DonationQuery) (models.DonationFilter, error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return models.DonationFilter{}, appErrors.Clone(appErrors.ErrValidation, "invalid status filter "+string(status))
		}
	}
	for _, stage := range query.Stage {
		if !stage.Valid() {
			return models.DonationFilter{}, appErrors.Clone(appErrors.ErrValidation, "invalid stage filter "+string(stage))
		}
	}
	if query.Type != "" && !query.Type.Valid() {
		return models.DonationFilter{}, appErrors.Clone(appErrors.ErrValidation, "invalid type filter "+string(query.Type))
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.Limit
	if size <= 0 || size > 100 {
		size = 20
	}
	return models.DonationFilter{
		Status:    query.Status,
		Stage:     query.Stage,
		Type:      query.Type,
		Search:    strings.TrimSpace(query.Search),
		SortBy:    query.Sort,
		SortOrder: query.Order,
		Page:      page,
		PageSize:  size,
	}, nil
}

var donationExportHeaders = []string{
	"id", "donor_name", "donor_email", "type", "stage", "status", "amount",
	"item_description", "estimated_value", "city_hall_reference", "request_date",
	"final_approval_date", "final_approved_by",
}

func donationExportRow(d *models.Donation) map[string]string {
	row := map[string]string{
		"id":                  d.ID,
		"donor_name":          d.DonorName,
		"donor_email":         d.DonorEmail,
		"type":                string(d.Type),
		"stage":               string(d.Stage),
		"status":              string(d.Status),
		"item_description":    deref(d.ItemDescription),
		"city_hall_reference": deref(d.CityHallReference),
		"request_date":        d.RequestDate.UTC().Format(dateLayout),
		"final_approved_by":   deref(d.FinalApprovedBy),
	}
	if d.Amount != nil {
		row["amount"] = strconv.FormatFloat(*d.Amount, 'f', 2, 64)
	}
	if d.EstimatedValue != nil {
		row["estimated_value"] = strconv.FormatFloat(*d.EstimatedValue, 'f', 2, 64)
	}
	if d.FinalApprovalDate != nil {
		row["final_approval_date"] = d.FinalApprovalDate.UTC().Format(time.RFC3339)
	}
	return row
}
