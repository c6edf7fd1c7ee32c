package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reachforge/crm-api/internal/dto"
	"github.com/reachforge/crm-api/internal/entity"
)

var (
	// ErrContactNotFound is returned when no contact matches the lookup.
	ErrContactNotFound = errors.New("contact not found")
	// ErrEmailTaken indicates the case-insensitive unique e-mail index fired.
	ErrEmailTaken = errors.New("email has already been taken")
)

// ContactsRepository describes persistence operations for contacts.
type ContactsRepository interface {
	Create(ctx context.Context, contact *entity.Contact) error
	Update(ctx context.Context, contact *entity.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Contact, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter dto.ContactFilter) ([]entity.Contact, error)
	FindDuplicate(ctx context.Context, email, mobile *string) (*entity.Contact, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateConsentByEmail(ctx context.Context, email, status string) error
	MarkBouncedByEmail(ctx context.Context, email string) error
}

// PGXContactsRepository implements ContactsRepository using pgx.
type PGXContactsRepository struct {
	pool pgxPool
}

// NewPGXContactsRepository wires a pgx backed repository.
func NewPGXContactsRepository(pool pgxPool) *PGXContactsRepository {
	return &PGXContactsRepository{pool: pool}
}

const contactColumns = `
	id, email, mobile_number, account_type, full_name, company_name,
	role, country, city, source, notes, tags, consent_status, bounced,
	unsubscribed_at, created_at, updated_at`

// Create inserts a new contact. A case-insensitive duplicate e-mail
// surfaces as ErrEmailTaken.
func (r *PGXContactsRepository) Create(ctx context.Context, contact *entity.Contact) error {
	if contact == nil {
		return fmt.Errorf("contact payload is nil")
	}
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO contacts (
			id, email, mobile_number, account_type, full_name, company_name,
			role, country, city, source, notes, tags, consent_status, bounced
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, contact.ID, contact.Email, contact.MobileNumber, contact.AccountType,
		contact.FullName, contact.CompanyName, contact.Role, contact.Country,
		contact.City, contact.Source, contact.Notes, tagsOrEmpty(contact.Tags),
		contact.ConsentStatus, contact.Bounced)

	if err := row.Scan(&contact.CreatedAt, &contact.UpdatedAt); err != nil {
		if isUniqueEmailViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// Update rewrites all mutable columns of an existing contact.
func (r *PGXContactsRepository) Update(ctx context.Context, contact *entity.Contact) error {
	if contact == nil {
		return fmt.Errorf("contact payload is nil")
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE contacts SET
			email = $2,
			mobile_number = $3,
			account_type = $4,
			full_name = $5,
			company_name = $6,
			role = $7,
			country = $8,
			city = $9,
			source = $10,
			notes = $11,
			tags = $12,
			consent_status = $13,
			bounced = $14,
			unsubscribed_at = $15,
			updated_at = NOW()
		WHERE id = $1
	`, contact.ID, contact.Email, contact.MobileNumber, contact.AccountType,
		contact.FullName, contact.CompanyName, contact.Role, contact.Country,
		contact.City, contact.Source, contact.Notes, tagsOrEmpty(contact.Tags),
		contact.ConsentStatus, contact.Bounced, contact.UnsubscribedAt)
	if err != nil {
		if isUniqueEmailViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update contact: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

// Get fetches one contact by id.
func (r *PGXContactsRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return contact, nil
}

// Delete removes a contact by id.
func (r *PGXContactsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

// List retrieves contacts matching the filter, newest first.
func (r *PGXContactsRepository) List(ctx context.Context, filter dto.ContactFilter) ([]entity.Contact, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + contactColumns + ` FROM contacts`)

	var (
		clauses []string
		args    []any
		idx     = 1
	)

	if filter.Q != "" {
		pattern := fmt.Sprintf("%%%s%%", strings.ToLower(filter.Q))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d OR LOWER(company_name) LIKE $%d OR mobile_number LIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, pattern)
		idx++
	}
	if filter.AccountType != "" {
		clauses = append(clauses, fmt.Sprintf("account_type = $%d", idx))
		args = append(args, filter.AccountType)
		idx++
	}
	if filter.ConsentStatus != "" {
		clauses = append(clauses, fmt.Sprintf("consent_status = $%d", idx))
		args = append(args, filter.ConsentStatus)
		idx++
	}
	if filter.Tag != "" {
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(tags)", idx))
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Tag)))
		idx++
	}
	if filter.Bounced != nil {
		clauses = append(clauses, fmt.Sprintf("bounced = $%d", idx))
		args = append(args, *filter.Bounced)
		idx++
	}

	if len(clauses) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(clauses, " AND "))
	}
	query.WriteString(" ORDER BY created_at DESC")

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1))
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []entity.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// FindDuplicate locates an existing contact by case-insensitive e-mail or
// exact mobile number. Either argument may be nil; both nil returns
// ErrContactNotFound.
func (r *PGXContactsRepository) FindDuplicate(ctx context.Context, email, mobile *string) (*entity.Contact, error) {
	var (
		clauses []string
		args    []any
		idx     = 1
	)
	if email != nil && *email != "" {
		clauses = append(clauses, fmt.Sprintf("LOWER(email) = LOWER($%d)", idx))
		args = append(args, *email)
		idx++
	}
	if mobile != nil && *mobile != "" {
		clauses = append(clauses, fmt.Sprintf("mobile_number = $%d", idx))
		args = append(args, *mobile)
		idx++
	}
	if len(clauses) == 0 {
		return nil, ErrContactNotFound
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` +
		strings.Join(clauses, " OR ")
	if len(clauses) > 1 {
		// When e-mail and mobile hit different rows the e-mail match wins.
		query += ` ORDER BY ` + clauses[0] + ` DESC`
	}
	query += ` LIMIT 1`

	row := r.pool.QueryRow(ctx, query, args...)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("find duplicate contact: %w", err)
	}
	return contact, nil
}

// EmailExists reports whether any contact holds the e-mail, ignoring case.
func (r *PGXContactsRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contacts WHERE LOWER(email) = LOWER($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// UpdateConsentByEmail transitions the consent state of the contact with
// the given e-mail, stamping unsubscribed_at on unsubscribes.
func (r *PGXContactsRepository) UpdateConsentByEmail(ctx context.Context, email, status string) error {
	var unsubscribedAt any
	if status == entity.ConsentUnsubscribed {
		unsubscribedAt = time.Now().UTC()
	}
	cmd, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET consent_status = $2,
		    unsubscribed_at = COALESCE($3, unsubscribed_at),
		    updated_at = NOW()
		WHERE LOWER(email) = LOWER($1)
	`, email, status, unsubscribedAt)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

// MarkBouncedByEmail flips the bounced flag for the contact with the e-mail.
func (r *PGXContactsRepository) MarkBouncedByEmail(ctx context.Context, email string) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE contacts SET bounced = TRUE, updated_at = NOW() WHERE LOWER(email) = LOWER($1)
	`, email)
	if err != nil {
		return fmt.Errorf("mark bounced: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

func scanContact(row pgx.Row) (*entity.Contact, error) {
	var c entity.Contact
	err := row.Scan(
		&c.ID,
		&c.Email,
		&c.MobileNumber,
		&c.AccountType,
		&c.FullName,
		&c.CompanyName,
		&c.Role,
		&c.Country,
		&c.City,
		&c.Source,
		&c.Notes,
		&c.Tags,
		&c.ConsentStatus,
		&c.Bounced,
		&c.UnsubscribedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func isUniqueEmailViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "email")
}
