package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"vidafit.app/cloud/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage is the profile store. Lookups return (nil, nil) when no
// profile matches.
type Storage interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	FindProfileByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error

	// SetStripeCustomerID persists a Stripe customer id only while the
	// profile has none, and reports whether the write happened. A caller
	// that loses the race must re-read and use the stored id.
	SetStripeCustomerID(ctx context.Context, profileID, customerID string) (bool, error)
	SetSubscriptionID(ctx context.Context, profileID, subscriptionID string) error
	UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error

	Close() error
}

type MemoryStorage struct {
	mu       sync.Mutex
	Profiles map[string]models.Profile
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{Profiles: make(map[string]models.Profile)}
}

func (m *MemoryStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.Profiles[id]
	if !exists {
		return nil, nil
	}
	return &profile, nil
}

func (m *MemoryStorage) FindProfileByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	if customerID == "" {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, profile := range m.Profiles {
		if profile.StripeCustomerID == customerID {
			p := profile
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Profiles[profile.ID] = *profile
	return nil
}

func (m *MemoryStorage) SetStripeCustomerID(ctx context.Context, profileID, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.Profiles[profileID]
	if !exists {
		return false, fmt.Errorf("profile %s not found", profileID)
	}
	if profile.StripeCustomerID != "" {
		return false, nil
	}

	profile.StripeCustomerID = customerID
	profile.UpdatedAt = time.Now()
	m.Profiles[profileID] = profile
	return true, nil
}

func (m *MemoryStorage) SetSubscriptionID(ctx context.Context, profileID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.Profiles[profileID]
	if !exists {
		return fmt.Errorf("profile %s not found", profileID)
	}

	profile.StripeSubscriptionID = subscriptionID
	profile.UpdatedAt = time.Now()
	m.Profiles[profileID] = profile
	return nil
}

func (m *MemoryStorage) UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.Profiles[profileID]
	if !exists {
		return fmt.Errorf("profile %s not found", profileID)
	}

	profile.StripeSubscriptionStatus = status
	profile.IsPremium = isPremium
	profile.PremiumUntil = premiumUntil
	profile.UpdatedAt = time.Now()
	m.Profiles[profileID] = profile
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

const profileColumns = `id, email, stripe_customer_id, stripe_subscription_id, stripe_subscription_status, is_premium, premium_until, created_at, updated_at`

func (s *SQLiteStorage) scanProfile(row *sql.Row) (*models.Profile, error) {
	var profile models.Profile
	var customerID, subscriptionID, status sql.NullString
	var premiumUntil sql.NullTime

	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&customerID,
		&subscriptionID,
		&status,
		&profile.IsPremium,
		&premiumUntil,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile.StripeCustomerID = customerID.String
	profile.StripeSubscriptionID = subscriptionID.String
	profile.StripeSubscriptionStatus = status.String
	if premiumUntil.Valid {
		until := premiumUntil.Time
		profile.PremiumUntil = &until
	}

	return &profile, nil
}

func (s *SQLiteStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStorage) FindProfileByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	if customerID == "" {
		return nil, nil
	}

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = ?`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, customerID))
}

func (s *SQLiteStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	query := `INSERT OR REPLACE INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		profile.ID,
		profile.Email,
		nullString(profile.StripeCustomerID),
		nullString(profile.StripeSubscriptionID),
		nullString(profile.StripeSubscriptionStatus),
		profile.IsPremium,
		nullTime(profile.PremiumUntil),
		profile.CreatedAt,
		profile.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) SetStripeCustomerID(ctx context.Context, profileID, customerID string) (bool, error) {
	query := `UPDATE profiles SET stripe_customer_id = ?, updated_at = ? WHERE id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')`

	result, err := s.db.ExecContext(ctx, query, customerID, time.Now(), profileID)
	if err != nil {
		return false, fmt.Errorf("failed to set stripe customer id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (s *SQLiteStorage) SetSubscriptionID(ctx context.Context, profileID, subscriptionID string) error {
	query := `UPDATE profiles SET stripe_subscription_id = ?, updated_at = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, subscriptionID, time.Now(), profileID)
	if err != nil {
		return fmt.Errorf("failed to set subscription id: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error {
	query := `UPDATE profiles SET stripe_subscription_status = ?, is_premium = ?, premium_until = ?, updated_at = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, status, isPremium, nullTime(premiumUntil), time.Now(), profileID)
	if err != nil {
		return fmt.Errorf("failed to update premium status: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
