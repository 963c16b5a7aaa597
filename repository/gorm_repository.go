package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/krshsl/mockprep/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options configures the Postgres connection.
type Options struct {
	URL          string
	LogLevel     string // silent, error, warn, info
	MaxIdleConns int
	MaxOpenConns int
}

// Database bundles the pgx pool with the gorm handle built on top of it.
// The pool is also used directly for health pings.
type Database struct {
	Pool *pgxpool.Pool
	Gorm *gorm.DB
}

// Open connects to Postgres through a pgx pool and wraps it with gorm.
func Open(ctx context.Context, opts Options) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 && opts.MaxIdleConns < int(poolConfig.MaxConns) {
		poolConfig.MinConns = int32(opts.MaxIdleConns)
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(opts.LogLevel)),
	})
	if err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	slog.Info("Connected to database", "max_conns", poolConfig.MaxConns)
	return &Database{Pool: pool, Gorm: gormDB}, nil
}

// Ping checks the pool can still reach Postgres.
func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// Close releases the gorm handle and the pool.
func (d *Database) Close() {
	if sqlDB, err := d.Gorm.DB(); err == nil {
		sqlDB.Close()
	}
	d.Pool.Close()
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(models.All()...)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ErrDuplicate is returned when a write hits a unique index.
var ErrDuplicate = errors.New("record already exists")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// isUUID reports whether every id fits a uuid column. Postgres fails the
// whole statement on anything else, so lookups by a malformed ID match nothing.
func isUUID(ids ...string) bool {
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return false
		}
	}
	return true
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Token operations. Tokens are stored as SHA-256 hashes by the auth service.
func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) CreatePermanentToken(ctx context.Context, token *models.PermanentToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create permanent token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetPermanentToken(ctx context.Context, token string) (*models.PermanentToken, error) {
	var permanentToken models.PermanentToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&permanentToken).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get permanent token", "error", err)
		return nil, err
	}
	return &permanentToken, nil
}

// DeleteAllUserTokens removes every refresh and permanent token of a user in one transaction.
func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
			slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.PermanentToken{}).Error; err != nil {
			slog.Error("Failed to delete user permanent tokens", "error", err, "user_id", userID)
			return err
		}
		return nil
	})
}

// GetUserStats aggregates session, answer and skill counts for the dashboard.
func (r *GORMRepository) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	var stats models.UserStats
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.InterviewSession{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalSessions).Error; err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	if err := db.Model(&models.InterviewSession{}).
		Where("user_id = ? AND status = ?", userID, models.SessionStatusCompleted).
		Count(&stats.CompletedSessions).Error; err != nil {
		return nil, fmt.Errorf("failed to count completed sessions: %w", err)
	}

	userSessions := db.Model(&models.InterviewSession{}).Select("id").Where("user_id = ?", userID)

	var scoreRow struct {
		Answered int64
		Average  *float64
	}
	if err := db.Model(&models.AnswerEvaluation{}).
		Select("COUNT(*) AS answered, AVG(score) AS average").
		Where("session_id IN (?)", userSessions).
		Scan(&scoreRow).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate evaluations: %w", err)
	}
	stats.AnsweredQuestions = scoreRow.Answered
	if scoreRow.Average != nil {
		stats.AverageScore = *scoreRow.Average
	}

	if err := db.Model(&models.Skill{}).
		Where("user_id = ?", userID).
		Count(&stats.SkillCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count skills: %w", err)
	}

	var lastSession models.InterviewSession
	err := db.Where("user_id = ?", userID).Order("started_at DESC").First(&lastSession).Error
	switch {
	case err == nil:
		stats.LastActivity = &lastSession.StartedAt
	case !isNotFound(err):
		return nil, fmt.Errorf("failed to get last activity: %w", err)
	}

	return &stats, nil
}
