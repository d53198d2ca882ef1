// Package auth はパスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6
	// maxPasswordBytes はbcryptが扱える最大バイト数。
	maxPasswordBytes = 72
	maxNameLength    = 200
	maxEmailLength   = 320
)

// SignupInput は会員登録の入力。
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		config:      config,
	}
}

// Signup は会員を登録し、ログイン済みのセッションを発行する。
// 登録経路から管理者を作ることはできず、ロールは常にmemberになる。
func (s *Service) Signup(ctx context.Context, input SignupInput) (*model.User, *model.Session, error) {
	user, err := s.register(ctx, input, model.RoleMember)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return user, session, nil
}

// CreateAdmin は管理者ユーザーを作成する。CLIからのみ呼ばれる。
func (s *Service) CreateAdmin(ctx context.Context, input SignupInput) (*model.User, error) {
	return s.register(ctx, input, model.RoleAdmin)
}

func (s *Service) register(ctx context.Context, input SignupInput, role model.Role) (*model.User, error) {
	name, email, err := validateSignup(input)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
	)
	return user, nil
}

// validateSignup は入力を検証し、正規化した名前とメールアドレスを返す。
func validateSignup(input SignupInput) (string, string, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return "", "", model.NewValidationError("name", "名前を入力してください")
	}
	if len([]rune(name)) > maxNameLength {
		return "", "", model.NewValidationError("name", fmt.Sprintf("%d文字以内で入力してください", maxNameLength))
	}

	email := NormalizeEmail(input.Email)
	if email == "" {
		return "", "", model.NewValidationError("email", "メールアドレスを入力してください")
	}
	if len(email) > maxEmailLength {
		return "", "", model.NewValidationError("email", "メールアドレスが長すぎます")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", "", model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}

	if len([]rune(input.Password)) < MinPasswordLength {
		return "", "", model.NewValidationError("password", fmt.Sprintf("%d文字以上で入力してください", MinPasswordLength))
	}
	if len(input.Password) > maxPasswordBytes {
		return "", "", model.NewValidationError("password", "パスワードが長すぎます")
	}
	return name, email, nil
}

// NormalizeEmail は前後の空白を除き小文字に揃える。
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// メールアドレスの未登録とパスワード不一致は同じエラーになる。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			slog.Info("login rejected", slog.String("user_id", user.ID))
			return nil, nil, model.NewInvalidCredentialsError()
		}
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
