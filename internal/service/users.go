package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// BootstrapRoles makes sure every role exists and that the earliest
// registered user holds SuperAdmin.
func (s *Service) BootstrapRoles(ctx context.Context) error {
	if err := s.repo.EnsureRoles(ctx, domain.Roles); err != nil {
		return fmt.Errorf("ensure roles: %w", err)
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 || slices.Contains(users[0].Roles, domain.RoleSuperAdmin) {
		return nil
	}
	if err := s.repo.AddUserRole(ctx, users[0].ID, domain.RoleSuperAdmin); err != nil {
		return fmt.Errorf("promote first user: %w", err)
	}
	s.logger.Info("first user promoted to SuperAdmin", zap.String("user_id", users[0].ID), zap.String("email", users[0].Email))
	return nil
}

// Register creates an account. The very first account becomes SuperAdmin;
// everyone else starts without roles until an administrator assigns one.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.UserWithRoles, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return domain.UserWithRoles{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	existing, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.UserWithRoles{}, err
	}
	var roles []string
	if len(existing) == 0 {
		if err := s.repo.EnsureRoles(ctx, domain.Roles); err != nil {
			return domain.UserWithRoles{}, fmt.Errorf("ensure roles: %w", err)
		}
		roles = []string{domain.RoleSuperAdmin}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserWithRoles{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    s.now().UTC(),
		Roles:        roles,
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		return domain.UserWithRoles{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", account.ID), zap.Strings("roles", roles))
	return toUserWithRoles(account), nil
}

// Authenticate checks credentials and returns the actor to issue a token for.
func (s *Service) Authenticate(ctx context.Context, email string, password string) (domain.Actor, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}

	account, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.Actor{}, ErrInactiveAccount
	}

	return domain.Actor{UserID: account.ID, Email: account.Email, Roles: account.Roles}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserWithRoles, error) {
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserWithRoles, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, toUserWithRoles(account))
	}
	return users, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]string, error) {
	return s.repo.ListRoles(ctx)
}

// AssignRole adds role to the user. A SuperAdmin may not hand themselves a
// different role, which is how self-demotion would start.
func (s *Service) AssignRole(ctx context.Context, userID string, role string) (domain.UserWithRoles, error) {
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return domain.UserWithRoles{}, fmt.Errorf("%w: user and role are required", store.ErrInvalidInput)
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.UserID == userID && role != domain.RoleSuperAdmin {
		return domain.UserWithRoles{}, fmt.Errorf("%w: you cannot remove your own SuperAdmin privileges", ErrForbidden)
	}

	if err := s.repo.AddUserRole(ctx, userID, role); err != nil {
		return domain.UserWithRoles{}, err
	}
	return s.userWithRoles(ctx, userID, "role assigned", role)
}

func (s *Service) RemoveRole(ctx context.Context, userID string, role string) (domain.UserWithRoles, error) {
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return domain.UserWithRoles{}, fmt.Errorf("%w: user and role are required", store.ErrInvalidInput)
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.UserID == userID && role == domain.RoleSuperAdmin {
		return domain.UserWithRoles{}, fmt.Errorf("%w: you cannot remove your own SuperAdmin role", ErrForbidden)
	}

	if err := s.repo.RemoveUserRole(ctx, userID, role); err != nil {
		return domain.UserWithRoles{}, err
	}
	return s.userWithRoles(ctx, userID, "role removed", role)
}

func (s *Service) userWithRoles(ctx context.Context, userID string, event string, role string) (domain.UserWithRoles, error) {
	account, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return domain.UserWithRoles{}, err
	}
	actor, _ := ActorFromContext(ctx)
	s.logger.Info(event, zap.String("user_id", userID), zap.String("role", role), zap.String("by", actor.UserID))
	return toUserWithRoles(*account), nil
}

func toUserWithRoles(account domain.UserAccount) domain.UserWithRoles {
	roles := slices.Clone(account.Roles)
	if roles == nil {
		roles = []string{}
	}
	slices.Sort(roles)
	return domain.UserWithRoles{
		ID:        account.ID,
		Email:     account.Email,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
		Roles:     roles,
	}
}
