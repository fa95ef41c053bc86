package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"sats-arena/internal/domain"
)

var validate = validator.New()

type credentials struct {
	Username string `validate:"required,alphanum,min=3,max=32"`
	Password string `validate:"omitempty,min=4,max=72"`
}

// Profiles loads and persists player profiles off the scheduler goroutine.
type Profiles struct {
	store    ProfileStore
	starting int
	timeout  time.Duration
	cost     int
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewProfiles(store ProfileStore, startingBalance int, timeout time.Duration, logger *slog.Logger) *Profiles {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiles{
		store:    store,
		starting: startingBalance,
		timeout:  timeout,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
		now:      time.Now,
	}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (p *Profiles) WithHashCost(cost int) *Profiles {
	p.cost = cost
	return p
}

// Login loads the profile for username, creating it on first use. A profile
// that has a password requires it to match.
func (p *Profiles) Login(ctx context.Context, username, password string) (domain.PlayerProfile, bool, error) {
	if err := validate.Struct(credentials{Username: username, Password: password}); err != nil {
		return domain.PlayerProfile{}, false, formatValidation(err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	profile, err := p.store.Load(ctx, username)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		profile = p.fresh(username)
		if password != "" {
			if profile.PasswordHash, err = p.hash(password); err != nil {
				return domain.PlayerProfile{}, false, err
			}
		}
		if err := p.store.Save(ctx, profile); err != nil {
			return domain.PlayerProfile{}, false, fmt.Errorf("create profile: %w", err)
		}
		p.logger.Info("profile created", "username", username)
		return profile, true, nil
	case err != nil:
		return domain.PlayerProfile{}, false, fmt.Errorf("load profile: %w", err)
	}

	if profile.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
			return domain.PlayerProfile{}, false, domain.ErrInvalidCredentials
		}
	}
	return profile, false, nil
}

// Register creates a password-protected profile.
func (p *Profiles) Register(ctx context.Context, username, password string) (domain.PlayerProfile, error) {
	if password == "" {
		return domain.PlayerProfile{}, fmt.Errorf("password is required")
	}
	if err := validate.Struct(credentials{Username: username, Password: password}); err != nil {
		return domain.PlayerProfile{}, formatValidation(err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.store.Load(ctx, username); err == nil {
		return domain.PlayerProfile{}, domain.ErrUsernameTaken
	} else if !errors.Is(err, domain.ErrProfileNotFound) {
		return domain.PlayerProfile{}, fmt.Errorf("load profile: %w", err)
	}

	profile := p.fresh(username)
	hash, err := p.hash(password)
	if err != nil {
		return domain.PlayerProfile{}, err
	}
	profile.PasswordHash = hash
	if err := p.store.Save(ctx, profile); err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("create profile: %w", err)
	}
	p.logger.Info("profile registered", "username", username)
	return profile, nil
}

// SaveAsync persists the profile in the background. Failures are logged only;
// session state never waits on persistence.
func (p *Profiles) SaveAsync(profile domain.PlayerProfile) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.store.Save(ctx, profile); err != nil {
			p.logger.Error("save profile failed", "username", profile.Username, "err", err)
			return
		}
		p.logger.Debug("profile saved", "username", profile.Username, "balance", profile.Balance)
	}()
}

// Wait blocks until every pending save finished.
func (p *Profiles) Wait() {
	p.wg.Wait()
}

func (p *Profiles) fresh(username string) domain.PlayerProfile {
	return domain.PlayerProfile{
		Username:         username,
		Balance:          p.starting,
		CompletedLessons: []string{},
		CompletedQuizzes: []string{},
		LastSeen:         p.now(),
	}
}

func (p *Profiles) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", fe.Field())
		case "alphanum":
			return fmt.Errorf("%s may only contain letters and digits", fe.Field())
		case "min":
			return fmt.Errorf("%s must be at least %s characters", fe.Field(), fe.Param())
		case "max":
			return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
	}
	return fmt.Errorf("invalid %s", verrs[0].Field())
}
