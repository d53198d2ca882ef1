package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/catalog"
	"github.com/hitoshi/librarian/internal/lending"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/review"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn         func(ctx context.Context, input auth.SignupInput) (*model.User, *model.Session, error)
	loginFn          func(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Signup(ctx context.Context, input auth.SignupInput) (*model.User, *model.Session, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, input)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

type mockLendingService struct {
	borrowFn          func(ctx context.Context, bookID, callerID string) (*model.Book, error)
	reserveFn         func(ctx context.Context, bookID, callerID string) (*model.Book, error)
	returnFn          func(ctx context.Context, bookID, callerID string) (*model.Book, error)
	cancelFn          func(ctx context.Context, bookID, callerID string) (*model.Book, error)
	checkoutFn        func(ctx context.Context, bookID, callerID string) (*model.Book, error)
	browseAvailableFn func(ctx context.Context, query string) ([]*model.BookListing, error)
	listHeldFn        func(ctx context.Context, userID string) ([]*model.Book, error)
	listReturnedFn    func(ctx context.Context, userID string) ([]model.ReturnedBook, error)
	listBooksFn       func(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error)
	reconcileFn       func(ctx context.Context, userID string) (*lending.Reconciliation, error)
}

func (m *mockLendingService) Borrow(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	if m.borrowFn != nil {
		return m.borrowFn(ctx, bookID, callerID)
	}
	return nil, nil
}

func (m *mockLendingService) Reserve(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, bookID, callerID)
	}
	return nil, nil
}

func (m *mockLendingService) Return(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	if m.returnFn != nil {
		return m.returnFn(ctx, bookID, callerID)
	}
	return nil, nil
}

func (m *mockLendingService) CancelReservation(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, bookID, callerID)
	}
	return nil, nil
}

func (m *mockLendingService) CheckoutReservation(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, bookID, callerID)
	}
	return nil, nil
}

func (m *mockLendingService) BrowseAvailable(ctx context.Context, query string) ([]*model.BookListing, error) {
	if m.browseAvailableFn != nil {
		return m.browseAvailableFn(ctx, query)
	}
	return nil, nil
}

func (m *mockLendingService) ListHeld(ctx context.Context, userID string) ([]*model.Book, error) {
	if m.listHeldFn != nil {
		return m.listHeldFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockLendingService) ListReturned(ctx context.Context, userID string) ([]model.ReturnedBook, error) {
	if m.listReturnedFn != nil {
		return m.listReturnedFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockLendingService) ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error) {
	if m.listBooksFn != nil {
		return m.listBooksFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockLendingService) Reconcile(ctx context.Context, userID string) (*lending.Reconciliation, error) {
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx, userID)
	}
	return nil, nil
}

type mockCatalogService struct {
	getBookFn    func(ctx context.Context, bookID string) (*model.Book, error)
	createBookFn func(ctx context.Context, input catalog.BookInput) (*model.Book, error)
	updateBookFn func(ctx context.Context, bookID string, patch catalog.BookPatch) (*model.Book, error)
	deleteBookFn func(ctx context.Context, bookID string) error
	dashboardFn  func(ctx context.Context) (*model.Dashboard, error)
}

func (m *mockCatalogService) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	if m.getBookFn != nil {
		return m.getBookFn(ctx, bookID)
	}
	return nil, nil
}

func (m *mockCatalogService) CreateBook(ctx context.Context, input catalog.BookInput) (*model.Book, error) {
	if m.createBookFn != nil {
		return m.createBookFn(ctx, input)
	}
	return nil, nil
}

func (m *mockCatalogService) UpdateBook(ctx context.Context, bookID string, patch catalog.BookPatch) (*model.Book, error) {
	if m.updateBookFn != nil {
		return m.updateBookFn(ctx, bookID, patch)
	}
	return nil, nil
}

func (m *mockCatalogService) DeleteBook(ctx context.Context, bookID string) error {
	if m.deleteBookFn != nil {
		return m.deleteBookFn(ctx, bookID)
	}
	return nil
}

func (m *mockCatalogService) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx)
	}
	return &model.Dashboard{}, nil
}

type mockReviewService struct {
	addReviewFn    func(ctx context.Context, callerID string, input review.AddInput) (*model.Review, error)
	deleteReviewFn func(ctx context.Context, callerRole model.Role, reviewID string) error
	listAllFn      func(ctx context.Context, callerRole model.Role) ([]model.ReviewDetail, error)
	listByBookFn   func(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error)
}

func (m *mockReviewService) AddReview(ctx context.Context, callerID string, input review.AddInput) (*model.Review, error) {
	if m.addReviewFn != nil {
		return m.addReviewFn(ctx, callerID, input)
	}
	return nil, nil
}

func (m *mockReviewService) DeleteReview(ctx context.Context, callerRole model.Role, reviewID string) error {
	if m.deleteReviewFn != nil {
		return m.deleteReviewFn(ctx, callerRole, reviewID)
	}
	return nil
}

func (m *mockReviewService) ListAll(ctx context.Context, callerRole model.Role) ([]model.ReviewDetail, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx, callerRole)
	}
	return nil, nil
}

func (m *mockReviewService) ListByBook(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error) {
	if m.listByBookFn != nil {
		return m.listByBookFn(ctx, bookID)
	}
	return nil, nil
}

type mockMemberService struct {
	listMembersFn func(ctx context.Context) ([]model.MemberSummary, error)
	profileFn     func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockMemberService) Profile(ctx context.Context, userID string) (*model.User, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockMemberService) ListMembers(ctx context.Context) ([]model.MemberSummary, error) {
	if m.listMembersFn != nil {
		return m.listMembersFn(ctx)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withPrincipal はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withPrincipal(r *http.Request, userID string, role model.Role) *http.Request {
	ctx := middleware.ContextWithPrincipal(r.Context(), &model.Principal{UserID: userID, Role: role})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func strPtr(s string) *string { return &s }
