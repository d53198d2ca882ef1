// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/librarian/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var principalContextKey = contextKey("principal")

// principalSlotContextKey はログミドルウェアが用意した受け皿を格納するためのキー。
var principalSlotContextKey = contextKey("principal_slot")

// principalSlot は後段のミドルウェアで解決された呼び出し元を前段へ渡す。
type principalSlot struct {
	mu        sync.Mutex
	principal *model.Principal
}

func (s *principalSlot) set(p *model.Principal) {
	s.mu.Lock()
	s.principal = p
	s.mu.Unlock()
}

func (s *principalSlot) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return ""
	}
	return s.principal.UserID
}

func contextWithPrincipalSlot(ctx context.Context, slot *principalSlot) context.Context {
	return context.WithValue(ctx, principalSlotContextKey, slot)
}

// PrincipalFinder はセッションIDから呼び出し元を解決するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type PrincipalFinder interface {
	FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 呼び出し元のユーザーIDとロールをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証・期限切れのリクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(finder PrincipalFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			principal, err := finder.FindPrincipal(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if principal == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole は呼び出し元のロールが一致しない場合に403を返すミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if principal.Role != role {
				slog.Warn("role check failed",
					slog.String("user_id", principal.UserID),
					slog.String("role", string(principal.Role)),
					slog.String("required", string(role)),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewAdminOnlyError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから呼び出し元を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil || principal.UserID == "" {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	principal, err := PrincipalFromContext(ctx)
	if err != nil {
		return "", err
	}
	return principal.UserID, nil
}

// ContextWithPrincipal はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	if slot, ok := ctx.Value(principalSlotContextKey).(*principalSlot); ok {
		slot.set(principal)
	}
	return context.WithValue(ctx, principalContextKey, principal)
}
