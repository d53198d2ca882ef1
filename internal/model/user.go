// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限区分。
type Role string

const (
	// RoleAdmin は蔵書とレビューを管理できる管理者。
	RoleAdmin Role = "admin"
	// RoleMember は貸出・予約・レビューを行う会員。
	RoleMember Role = "member"
)

// User は図書館の利用者を表す。
type User struct {
	ID                  string    `db:"id"`
	Email               string    `db:"email"`
	Name                string    `db:"name"`
	Role                Role      `db:"role"`
	PasswordHash        string    `db:"password_hash"`
	OutstandingCount    int       `db:"outstanding_count"`
	LifetimeBorrowCount int       `db:"lifetime_borrow_count"`
	OverdueCount        int       `db:"overdue_count"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Principal は認証済みリクエストの呼び出し元。
type Principal struct {
	UserID string `db:"user_id"`
	Role   Role   `db:"role"`
}

// MemberSummary は会員一覧の1行。CurrentBookは貸出中の書籍（なければnil）。
type MemberSummary struct {
	User
	CurrentBook *Book
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
