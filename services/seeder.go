package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/mockprep/models"
	"golang.org/x/crypto/bcrypt"
)

// SeedStore is what the seeder writes through.
type SeedStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListSkills(ctx context.Context, userID string) ([]models.Skill, error)
	UpsertSkill(ctx context.Context, skill *models.Skill) error
	CountResumeSections(ctx context.Context, userID string) (int64, error)
	UpsertResumeSection(ctx context.Context, section *models.ResumeSection) (bool, error)
	GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error)
	UpsertResumeSummary(ctx context.Context, summary *models.ResumeSummary) error
}

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo SeedStore
}

func NewDatabaseSeeder(repo SeedStore) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

var demoSkills = []models.Skill{
	{Name: "Go", Category: "language", Proficiency: models.ProficiencyAdvanced, YearsExperience: 4},
	{Name: "PostgreSQL", Category: "database", Proficiency: models.ProficiencyIntermediate, YearsExperience: 3},
	{Name: "Kubernetes", Category: "infrastructure", Proficiency: models.ProficiencyIntermediate, YearsExperience: 2},
	{Name: "System Design", Category: "architecture", Proficiency: models.ProficiencyAdvanced, YearsExperience: 5},
}

var demoSections = []models.ResumeSection{
	{
		SectionType:  "experience",
		Title:        "Backend Engineer",
		Organization: "Northwind Payments",
		StartDate:    "2021-03",
		Description:  "Built the settlement pipeline in Go on Postgres and RabbitMQ. Cut reconciliation time from hours to minutes.",
		Position:     0,
	},
	{
		SectionType:  "experience",
		Title:        "Software Engineer",
		Organization: "Contoso Logistics",
		StartDate:    "2018-07",
		EndDate:      "2021-02",
		Description:  "Maintained shipment tracking APIs and moved batch jobs onto a queue-based worker pool.",
		Position:     1,
	},
	{
		SectionType:  "education",
		Title:        "B.Sc. Computer Science",
		Organization: "State University",
		StartDate:    "2014-09",
		EndDate:      "2018-06",
		Position:     2,
	},
}

const demoSummary = "Backend engineer with six years of experience building payment and logistics systems in Go. " +
	"Comfortable with Postgres, message queues and Kubernetes; led the redesign of a settlement pipeline."

// SeedDatabase creates the demo users and gives the first one a skill list,
// resume sections and a resume summary. Running it twice changes nothing.
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	users := []models.User{
		{Email: "test@example.com", Password: string(hashedPassword), FullName: "Test User", Role: "user"},
		{Email: "demo@example.com", Password: string(hashedPassword), FullName: "Demo User", Role: "user"},
	}
	for _, user := range users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}

	demo, err := s.repo.GetUserByEmail(ctx, "demo@example.com")
	if err != nil {
		return fmt.Errorf("failed to get demo user: %w", err)
	}
	if demo == nil {
		return fmt.Errorf("demo user not found")
	}

	if err := s.seedSkills(ctx, demo.ID); err != nil {
		return err
	}
	if err := s.seedSections(ctx, demo.ID); err != nil {
		return err
	}
	if err := s.seedSummary(ctx, demo.ID); err != nil {
		return err
	}

	slog.Info("Database seeding completed successfully")
	return nil
}

func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}
	if existingUser != nil {
		slog.Debug("User already exists, skipping", "email", user.Email)
		return nil
	}

	if err := s.repo.CreateUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}
	slog.Info("Created user", "email", user.Email)
	return nil
}

// seedSkills only fills an empty skill list so user edits survive a reseed.
func (s *DatabaseSeeder) seedSkills(ctx context.Context, userID string) error {
	existing, err := s.repo.ListSkills(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list skills: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, skill := range demoSkills {
		skill.UserID = userID
		if err := s.repo.UpsertSkill(ctx, &skill); err != nil {
			return fmt.Errorf("failed to seed skill %s: %w", skill.Name, err)
		}
	}
	slog.Info("Seeded demo skills", "user_id", userID, "count", len(demoSkills))
	return nil
}

func (s *DatabaseSeeder) seedSections(ctx context.Context, userID string) error {
	count, err := s.repo.CountResumeSections(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count resume sections: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, section := range demoSections {
		section.UserID = userID
		if _, err := s.repo.UpsertResumeSection(ctx, &section); err != nil {
			return fmt.Errorf("failed to seed resume section %s: %w", section.Title, err)
		}
	}
	slog.Info("Seeded demo resume sections", "user_id", userID, "count", len(demoSections))
	return nil
}

func (s *DatabaseSeeder) seedSummary(ctx context.Context, userID string) error {
	existing, err := s.repo.GetResumeSummary(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get resume summary: %w", err)
	}
	if existing != nil {
		return nil
	}

	summary := &models.ResumeSummary{UserID: userID, Summary: demoSummary, Source: models.SummarySourceManual}
	if err := s.repo.UpsertResumeSummary(ctx, summary); err != nil {
		return fmt.Errorf("failed to seed resume summary: %w", err)
	}
	return nil
}
