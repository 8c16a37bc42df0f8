package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/museum-admin-api/internal/models"
)

// ErrStaleVersion is returned when a conditional update finds the row at a newer version.
var ErrStaleVersion = errors.New("donation version is stale")

const donationColumns = `id, donor_name, donor_email, donor_contact, type, processing_stage, status,
       amount, item_description, estimated_value, condition, loan_start_date, loan_end_date,
       scheduled_date, scheduled_time, location, staff_member, alternative_dates, meeting_notes,
       meeting_completed_date, handover_completed, city_hall_reference, submission_documents,
       city_hall_submission_date, city_hall_approval_date, city_hall_notes, final_approval_date,
       final_approved_by, final_approval_notes, rejection_reason, rejected_at, request_date,
       created_at, updated_at, version`

// transitionColumns lists the columns a workflow transition may write.
var transitionColumns = map[string]struct{}{
	"processing_stage":          {},
	"status":                    {},
	"scheduled_date":            {},
	"scheduled_time":            {},
	"location":                  {},
	"staff_member":              {},
	"alternative_dates":         {},
	"meeting_notes":             {},
	"meeting_completed_date":    {},
	"handover_completed":        {},
	"city_hall_reference":       {},
	"submission_documents":      {},
	"city_hall_submission_date": {},
	"city_hall_approval_date":   {},
	"city_hall_notes":           {},
	"final_approval_date":       {},
	"final_approved_by":         {},
	"final_approval_notes":      {},
	"rejection_reason":          {},
	"rejected_at":               {},
}

var donationSorts = map[string]string{
	"requestDate":     "request_date",
	"request_date":    "request_date",
	"updatedAt":       "updated_at",
	"updated_at":      "updated_at",
	"donorName":       "donor_name",
	"donor_name":      "donor_name",
	"processingStage": "processing_stage",
	"stage":           "processing_stage",
	"status":          "status",
	"type":            "type",
	"amount":          "amount",
}

// TransitionParams describes one optimistic stage transition.
type TransitionParams struct {
	ID              string
	ExpectedVersion int64
	Set             map[string]interface{}
}

// DonationRepository persists donations and coordinates their attachment rows.
type DonationRepository struct {
	db *sqlx.DB
}

// NewDonationRepository constructs the repository.
func NewDonationRepository(db *sqlx.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

// CreateWithAttachments inserts the donation and its initial evidence in one transaction.
func (r *DonationRepository) CreateWithAttachments(ctx context.Context, donation *models.Donation, attachments []models.Attachment) (err error) {
	if donation.ID == "" {
		donation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if donation.RequestDate.IsZero() {
		donation.RequestDate = now
	}
	donation.CreatedAt = now
	donation.UpdatedAt = now
	donation.Version = 1
	if donation.AlternativeDates == nil {
		donation.AlternativeDates = pq.StringArray{}
	}
	if donation.SubmissionDocuments == nil {
		donation.SubmissionDocuments = pq.StringArray{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create donation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO donations
	(id, donor_name, donor_email, donor_contact, type, processing_stage, status, amount, item_description,
	 estimated_value, condition, loan_start_date, loan_end_date, alternative_dates, submission_documents,
	 request_date, created_at, updated_at, version)
	VALUES (:id, :donor_name, :donor_email, :donor_contact, :type, :processing_stage, :status, :amount, :item_description,
	 :estimated_value, :condition, :loan_start_date, :loan_end_date, :alternative_dates, :submission_documents,
	 :request_date, :created_at, :updated_at, :version)`
	if _, err = tx.NamedExecContext(ctx, query, donation); err != nil {
		return fmt.Errorf("create donation: %w", err)
	}
	for i := range attachments {
		attachments[i].DonationID = donation.ID
		if err = insertAttachment(ctx, tx, &attachments[i]); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create donation: %w", err)
	}
	return nil
}

// GetByID retrieves one donation row.
func (r *DonationRepository) GetByID(ctx context.Context, id string) (*models.Donation, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	query := fmt.Sprintf(`SELECT %s FROM donations WHERE id = $1`, donationColumns)
	var donation models.Donation
	if err := r.db.GetContext(ctx, &donation, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get donation: %w", err)
	}
	return &donation, nil
}

// List returns donations matching the filter with the total count.
func (r *DonationRepository) List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, int, error) {
	baseQuery := `FROM donations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.Status) > 0 {
		values := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			values[i] = string(s)
		}
		args = append(args, pq.Array(values))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Stage) > 0 {
		values := make([]string, len(filter.Stage))
		for i, s := range filter.Stage {
			values[i] = string(s)
		}
		args = append(args, pq.Array(values))
		conditions = append(conditions, fmt.Sprintf("processing_stage = ANY($%d)", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(donor_name) LIKE $%d OR LOWER(donor_email) LIKE $%d OR LOWER(COALESCE(item_description, '')) LIKE $%d OR LOWER(COALESCE(city_hall_reference, '')) LIKE $%d)", n, n, n, n))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy, ok := donationSorts[filter.SortBy]
	if !ok {
		sortBy = "request_date"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d", donationColumns, baseQuery, sortBy, sortOrder, pageSize, offset)
	var donations []models.Donation
	if err := r.db.SelectContext(ctx, &donations, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list donations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count donations: %w", err)
	}
	return donations, total, nil
}

// ApplyTransition writes the transition columns only if the row is still at the
// expected version, inserting any evidence rows in the same transaction.
// A missing row yields sql.ErrNoRows and a concurrent write yields ErrStaleVersion.
func (r *DonationRepository) ApplyTransition(ctx context.Context, params TransitionParams, attachments []models.Attachment) (_ *models.Donation, err error) {
	if len(params.Set) == 0 {
		return nil, fmt.Errorf("transition requires at least one column")
	}
	columns := make([]string, 0, len(params.Set))
	for column := range params.Set {
		if _, ok := transitionColumns[column]; !ok {
			return nil, fmt.Errorf("column %q is not writable by a transition", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	args := make([]interface{}, 0, len(columns)+3)
	assignments := make([]string, 0, len(columns)+2)
	for _, column := range columns {
		args = append(args, params.Set[column])
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	args = append(args, time.Now().UTC())
	assignments = append(assignments, fmt.Sprintf("updated_at = $%d", len(args)), "version = version + 1")
	args = append(args, params.ID, params.ExpectedVersion)
	query := fmt.Sprintf("UPDATE donations SET %s WHERE id = $%d AND version = $%d RETURNING %s",
		strings.Join(assignments, ", "), len(args)-1, len(args), donationColumns)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin donation transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var updated models.Donation
	if err = tx.GetContext(ctx, &updated, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("apply donation transition: %w", err)
		}
		var exists bool
		if existsErr := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM donations WHERE id = $1)`, params.ID); existsErr != nil {
			return nil, fmt.Errorf("check donation existence: %w", existsErr)
		}
		if exists {
			err = ErrStaleVersion
			return nil, err
		}
		return nil, err
	}
	for i := range attachments {
		attachments[i].DonationID = params.ID
		if err = insertAttachment(ctx, tx, &attachments[i]); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit donation transition: %w", err)
	}
	return &updated, nil
}

// Delete removes the donation and its attachment rows, returning the stored file paths.
func (r *DonationRepository) Delete(ctx context.Context, id string) (_ []string, err error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete donation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var paths []string
	if err = tx.SelectContext(ctx, &paths, `DELETE FROM donation_attachments WHERE donation_id = $1 RETURNING file_path`, id); err != nil {
		return nil, fmt.Errorf("delete donation attachments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM donations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete donation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check donation delete rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete donation: %w", err)
	}
	return paths, nil
}

// validID reports whether every id parses as a UUID. Ids that do not are
// reported as missing rows instead of reaching the uuid-typed columns.
func validID(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}
