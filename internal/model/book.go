// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookState は書籍の貸出状態を表す。
// available / borrowed / reserved のいずれか1つだけが常に有効となる。
type BookState string

const (
	// BookAvailable は貸出可能な状態。
	BookAvailable BookState = "available"
	// BookBorrowed は貸出中の状態。
	BookBorrowed BookState = "borrowed"
	// BookReserved は予約中の状態。
	BookReserved BookState = "reserved"
)

// Valid は定義済みの状態かどうかを返す。
func (s BookState) Valid() bool {
	switch s {
	case BookAvailable, BookBorrowed, BookReserved:
		return true
	default:
		return false
	}
}

// ParseBookState は文字列をBookStateに変換する。空文字列は空のBookState（絞り込みなし）を返す。
func ParseBookState(raw string) (BookState, error) {
	if raw == "" {
		return "", nil
	}
	s := BookState(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", NewValidationError("status", fmt.Sprintf("未定義の状態です: %s", raw))
	}
	return s, nil
}

// Book は蔵書1冊を表す。
// HolderIDはState != available のときだけ設定される（借りている人、または予約している人）。
type Book struct {
	ID          string     `db:"id"`
	ISBN        string     `db:"isbn"`
	Title       string     `db:"title"`
	Author      string     `db:"author"`
	CoverImage  *string    `db:"cover_image"`
	Genre       *string    `db:"genre"`
	State       BookState  `db:"state"`
	HolderID    *string    `db:"holder_id"`
	BorrowedAt  *time.Time `db:"borrowed_at"`
	ReturnDueAt *time.Time `db:"return_due_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// IsHeldBy は指定ユーザーがこの書籍の保持者かどうかを返す。
func (b *Book) IsHeldBy(userID string) bool {
	return b.HolderID != nil && *b.HolderID == userID
}

// Consistent は holder != nil ⟺ state != available の不変条件を満たすかを返す。
func (b *Book) Consistent() bool {
	return (b.HolderID != nil) == (b.State != BookAvailable)
}

// BookListing は管理者向け一覧で保持者の名前とメールを結合した書籍。
type BookListing struct {
	Book
	HolderName  *string `db:"holder_name"`
	HolderEmail *string `db:"holder_email"`
}

// BookFilter は書籍一覧の絞り込み条件。
// ゼロ値のフィールドはその軸で絞り込まないことを意味する。
type BookFilter struct {
	State BookState
	Query string
}

// ReturnedBook は返却履歴の1件を表す。同じ書籍が複数回現れることがある。
type ReturnedBook struct {
	BookID     string    `db:"book_id"`
	Title      string    `db:"title"`
	Author     string    `db:"author"`
	ReturnedAt time.Time `db:"returned_at"`
}

// CounterUpdate は貸出遷移に伴ってユーザーのカウンタへ反映する差分。
// 書籍の状態更新と同一トランザクションで適用される。
type CounterUpdate struct {
	UserID           string
	OutstandingDelta int
	LifetimeDelta    int
	// ReturnedBookID が空でなければ返却履歴に1件追加する。
	ReturnedBookID string
	ReturnedAt     time.Time
}

// Dashboard は管理者ダッシュボードの集計値。毎回再計算する。
type Dashboard struct {
	TotalBooks     int `json:"total_books"`
	AvailableBooks int `json:"available_books"`
	BorrowedBooks  int `json:"borrowed_books"`
	ReservedBooks  int `json:"reserved_books"`
	TotalMembers   int `json:"total_members"`
}

// IsValidID はIDがUUID形式かどうかを返す。
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NormalizeISBN はハイフンと空白を除去し大文字に揃える。
func NormalizeISBN(raw string) string {
	r := strings.NewReplacer("-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(raw)))
}
