package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
)

// Status is the campaign lifecycle stored with each campaign row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when a campaign id has no row.
var ErrNotFound = errors.New("campaign: not found")

// Attachment is a file stored alongside the campaign.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

func attachmentOf(f *session.File) *Attachment {
	if f == nil {
		return nil
	}
	return &Attachment{Filename: f.Filename, MimeType: f.MimeType, Data: f.Data, Width: f.Width, Height: f.Height}
}

// NewCampaign is the row written when dispatch starts.
type NewCampaign struct {
	UserPhone       string
	Message         string
	ContactFile     *Attachment
	Image           *Attachment
	TotalRecipients int
}

// Summary is the persisted state of one campaign.
type Summary struct {
	ID              string    `json:"campaign_id"`
	UserPhone       string    `json:"user_phone"`
	Status          Status    `json:"status"`
	TotalRecipients int       `json:"total_recipients"`
	Sent            int64     `json:"sent_count"`
	Delivered       int64     `json:"delivered_count"`
	Failed          int64     `json:"failed_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists campaigns and their recipients.
type Store interface {
	CreateCampaign(ctx context.Context, c NewCampaign) (string, error)
	SavePhones(ctx context.Context, campaignID string, records []contacts.PhoneRecord) error
	Finish(ctx context.Context, campaignID string, status Status, progress session.ProgressSnapshot) error
	Get(ctx context.Context, campaignID string) (Summary, error)
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	db  db
	now func() time.Time
}

// NewPostgresStore accepts a *pgxpool.Pool or any compatible handle.
func NewPostgresStore(db db) *PostgresStore {
	if db == nil {
		panic("campaign: pgx pool required")
	}
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c NewCampaign) (string, error) {
	id := uuid.New()
	now := s.now()
	file := c.ContactFile
	if file == nil {
		file = &Attachment{}
	}
	image := c.Image
	if image == nil {
		image = &Attachment{}
	}
	query := `
		INSERT INTO campaigns (
			id, user_phone, status, message_content,
			csv_file_data, csv_filename, csv_mime_type, csv_size_bytes,
			image_file_data, image_filename, image_mime_type, image_size_bytes, image_width, image_height,
			total_recipients, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`
	_, err := s.db.Exec(ctx, query,
		id, c.UserPhone, string(StatusProcessing), c.Message,
		nullBytes(file.Data), nullString(file.Filename), nullString(file.MimeType), len(file.Data),
		nullBytes(image.Data), nullString(image.Filename), nullString(image.MimeType), len(image.Data), image.Width, image.Height,
		c.TotalRecipients, now,
	)
	if err != nil {
		return "", fmt.Errorf("campaign: insert campaign: %w", err)
	}
	return id.String(), nil
}

// SavePhones stores the valid recipients of a campaign in one transaction.
func (s *PostgresStore) SavePhones(ctx context.Context, campaignID string, records []contacts.PhoneRecord) error {
	cid, err := uuid.Parse(campaignID)
	if err != nil {
		return fmt.Errorf("campaign: campaign id must be a UUID: %w", err)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("campaign: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO phone_numbers (id, campaign_id, raw, formatted, country_code, is_valid, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, r := range records {
		if _, err := tx.Exec(ctx, query, uuid.New(), cid, r.Raw, r.Formatted, nullString(r.CountryCode), r.Valid, nullString(r.Error)); err != nil {
			return fmt.Errorf("campaign: insert phone: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("campaign: commit phones: %w", err)
	}
	return nil
}

// Finish records the final counters and status.
func (s *PostgresStore) Finish(ctx context.Context, campaignID string, status Status, p session.ProgressSnapshot) error {
	cid, err := uuid.Parse(campaignID)
	if err != nil {
		return fmt.Errorf("campaign: campaign id must be a UUID: %w", err)
	}
	query := `
		UPDATE campaigns
		SET status = $2, sent_count = $3, delivered_count = $4, failed_count = $5, updated_at = $6
		WHERE id = $1
	`
	ct, err := s.db.Exec(ctx, query, cid, string(status), p.Sent, p.Delivered, p.Failed, s.now())
	if err != nil {
		return fmt.Errorf("campaign: update campaign: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, campaignID string) (Summary, error) {
	cid, err := uuid.Parse(campaignID)
	if err != nil {
		return Summary{}, ErrNotFound
	}
	query := `
		SELECT id, user_phone, status, total_recipients, sent_count, delivered_count, failed_count, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	var (
		out    Summary
		id     uuid.UUID
		status string
	)
	err = s.db.QueryRow(ctx, query, cid).Scan(
		&id, &out.UserPhone, &status, &out.TotalRecipients,
		&out.Sent, &out.Delivered, &out.Failed, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, fmt.Errorf("campaign: load campaign: %w", err)
	}
	out.ID = id.String()
	out.Status = Status(status)
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
