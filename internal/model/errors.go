// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類。HTTPステータスへの変換はハンドラー層が行う。
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInvalidState ErrorKind = "invalid_state"
	KindForbidden    ErrorKind = "forbidden"
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // 分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, catalog, lending, review, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsKind はerrがkindに分類されるAPIErrorかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeBookNotFound     = "BOOK_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeReviewNotFound   = "REVIEW_NOT_FOUND"
	ErrCodeDuplicateISBN    = "DUPLICATE_ISBN"
	ErrCodeDuplicateEmail   = "DUPLICATE_EMAIL"
	ErrCodeBookUnavailable  = "BOOK_NOT_AVAILABLE"
	ErrCodeBookInUse        = "BOOK_IN_USE"
	ErrCodeNotHolder        = "NOT_HOLDER"
	ErrCodeAdminOnly        = "ADMIN_ONLY"
	ErrCodeReviewNotAllowed = "REVIEW_NOT_ALLOWED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeInvalidRating    = "INVALID_RATING"
	ErrCodeInvalidCover     = "INVALID_COVER_IMAGE"
	ErrCodeInvalidLogin     = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "catalog",
		Action:   "書籍IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewReviewNotFoundError はレビュー未検出エラーを生成する。
func NewReviewNotFoundError(reviewID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeReviewNotFound,
		Message:  fmt.Sprintf("指定されたレビューが見つかりません: %s", reviewID),
		Category: "review",
		Action:   "レビューIDを確認してください。",
	}
}

// NewDuplicateISBNError はISBN重複エラーを生成する。
func NewDuplicateISBNError(isbn string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateISBN,
		Message:  fmt.Sprintf("このISBNの書籍は既に登録されています: %s", isbn),
		Category: "catalog",
		Action:   "既存の書籍を編集するか、ISBNを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewBookUnavailableError は貸出可能でない書籍への貸出・予約エラーを生成する。
func NewBookUnavailableError(state BookState) *APIError {
	return &APIError{
		Kind:     KindInvalidState,
		Code:     ErrCodeBookUnavailable,
		Message:  fmt.Sprintf("この書籍は現在利用できません（状態: %s）。", state),
		Category: "lending",
		Action:   "貸出可能な書籍を選択してください。",
	}
}

// NewBookInUseError は貸出中・予約中の書籍を削除しようとした場合のエラーを生成する。
func NewBookInUseError(state BookState) *APIError {
	return &APIError{
		Kind:     KindInvalidState,
		Code:     ErrCodeBookInUse,
		Message:  fmt.Sprintf("貸出中または予約中の書籍は削除できません（状態: %s）。", state),
		Category: "catalog",
		Action:   "返却または予約取消の後に削除してください。",
	}
}

// NewNotHolderError は保持者以外による返却・予約操作のエラーを生成する。
func NewNotHolderError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeNotHolder,
		Message:  "この書籍はあなたが借りている（予約している）ものではありません。",
		Category: "lending",
		Action:   "マイブックの一覧を確認してください。",
	}
}

// NewAdminOnlyError は管理者専用操作のエラーを生成する。
func NewAdminOnlyError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeAdminOnly,
		Message:  "この操作は管理者のみ実行できます。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewReviewNotAllowedError は返却履歴にない書籍へのレビューのエラーを生成する。
func NewReviewNotAllowedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeReviewNotAllowed,
		Message:  "返却済みの書籍にのみレビューできます。",
		Category: "review",
		Action:   "書籍を借りて返却した後にレビューしてください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRatingError は評価値の範囲外エラーを生成する。
func NewInvalidRatingError(rating int) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("評価は%dから%dの整数で指定してください: %d", MinRating, MaxRating, rating),
		Category: "validation",
		Action:   "評価を1から5の範囲で選択してください。",
	}
}

// NewInvalidCoverImageError は表紙画像URLの検証エラーを生成する。
func NewInvalidCoverImageError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidCover,
		Message:  fmt.Sprintf("表紙画像のURLが無効です: %s", reason),
		Category: "validation",
		Action:   "公開されている画像のURL（http:// または https://）を指定してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeInvalidLogin,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
