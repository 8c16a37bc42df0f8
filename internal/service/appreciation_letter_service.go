package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/models"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/export"
)

type letterRenderer interface {
	Render(letter export.Letter) ([]byte, error)
}

// AppreciationLetterConfig carries the museum branding printed on letters.
type AppreciationLetterConfig struct {
	MuseumName string
	Signatory  string
}

// AppreciationLetter is a rendered letter ready for download.
type AppreciationLetter struct {
	Filename string
	Content  []byte
}

// AppreciationLetterService renders thank-you letters for approved donations.
type AppreciationLetterService struct {
	repo     donationGetter
	renderer letterRenderer
	logger   *zap.Logger
	cfg      AppreciationLetterConfig
	now      func() time.Time
}

// NewAppreciationLetterService constructs the service.
func NewAppreciationLetterService(repo donationGetter, renderer letterRenderer, logger *zap.Logger, cfg AppreciationLetterConfig) *AppreciationLetterService {
	if renderer == nil {
		renderer = export.NewLetterRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MuseumName == "" {
		cfg.MuseumName = "City Museum"
	}
	if cfg.Signatory == "" {
		cfg.Signatory = "Museum Director"
	}
	return &AppreciationLetterService{repo: repo, renderer: renderer, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Generate renders the letter. Only approved donations qualify.
func (s *AppreciationLetterService) Generate(ctx context.Context, id string) (*AppreciationLetter, error) {
	donation, err := loadDonation(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if donation.Status != models.DonationStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "appreciation letters are issued for approved donations only")
	}

	content, err := s.renderer.Render(s.compose(donation))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render appreciation letter")
	}
	s.logger.Info("appreciation letter generated", zap.String("donation_id", donation.ID))
	return &AppreciationLetter{
		Filename: fmt.Sprintf("appreciation-letter-%s.pdf", sanitize(donation.DonorName)),
		Content:  content,
	}, nil
}

func (s *AppreciationLetterService) compose(d *models.Donation) export.Letter {
	issued := s.now()
	letter := export.Letter{
		Institution: s.cfg.MuseumName,
		Signatory:   s.cfg.Signatory,
		Reference:   "DON-" + strings.ToUpper(shortID(d.ID)),
		IssuedAt:    issued,
		DonorName:   d.DonorName,
		Salutation:  fmt.Sprintf("Dear %s,", d.DonorName),
	}

	var gift string
	switch d.Type {
	case models.DonationTypeMonetary:
		gift = "your generous financial contribution"
	case models.DonationTypeLoan:
		gift = fmt.Sprintf("the loan of %s", deref(d.ItemDescription))
	default:
		gift = fmt.Sprintf("the donation of %s", deref(d.ItemDescription))
	}
	letter.Paragraphs = []string{
		fmt.Sprintf("On behalf of %s, we thank you sincerely for %s.", s.cfg.MuseumName, gift),
		"Your support helps us preserve and share our heritage with every visitor.",
	}
	if d.Type == models.DonationTypeLoan && d.LoanStartDate != nil && d.LoanEndDate != nil {
		letter.Paragraphs = append(letter.Paragraphs, fmt.Sprintf("The loan period runs from %s to %s.",
			d.LoanStartDate.Format("2 January 2006"), d.LoanEndDate.Format("2 January 2006")))
	}

	letter.Details = append(letter.Details, [2]string{"Donation type", string(d.Type)})
	if d.Amount != nil {
		letter.Details = append(letter.Details, [2]string{"Amount", strconv.FormatFloat(*d.Amount, 'f', 2, 64)})
	}
	if item := deref(d.ItemDescription); item != "" {
		letter.Details = append(letter.Details, [2]string{"Item", item})
	}
	letter.Details = append(letter.Details, [2]string{"Received", d.RequestDate.Format("2 January 2006")})
	if d.FinalApprovalDate != nil {
		letter.Details = append(letter.Details, [2]string{"Approved", d.FinalApprovalDate.Format("2 January 2006")})
	} else if d.CityHallApprovalDate != nil {
		letter.Details = append(letter.Details, [2]string{"Approved", d.CityHallApprovalDate.Format("2 January 2006")})
	}
	if ref := deref(d.CityHallReference); ref != "" {
		letter.Details = append(letter.Details, [2]string{"City hall reference", ref})
	}
	return letter
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
