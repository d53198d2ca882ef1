// Package memory はテストとローカル検証用のインメモリリポジトリを提供する。
// すべての操作は1つのミューテックスで直列化されるため、
// MutateBook は PostgreSQL の行ロックと同じく同一書籍への遷移を1つずつ適用する。
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

type returnedRow struct {
	seq        int64
	userID     string
	bookID     string
	returnedAt time.Time
}

// Store はインメモリの永続化領域。リポジトリごとのビューを返す。
type Store struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
	books    map[string]*model.Book
	reviews  map[string]*model.Review
	returned []returnedRow
	seq      int64
	now      func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
		books:    make(map[string]*model.Book),
		reviews:  make(map[string]*model.Review),
		now:      time.Now,
	}
}

// SetClock はセッション期限判定に使う時刻関数を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Users はUserRepositoryのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Sessions はSessionRepositoryのビューを返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// Books はBookRepositoryのビューを返す。
func (s *Store) Books() *BookRepo { return &BookRepo{s: s} }

// Lending はLendingRepositoryのビューを返す。
func (s *Store) Lending() *LendingRepo { return &LendingRepo{s: s} }

// Reviews はReviewRepositoryのビューを返す。
func (s *Store) Reviews() *ReviewRepo { return &ReviewRepo{s: s} }

func copyBook(b *model.Book) *model.Book {
	c := *b
	if b.HolderID != nil {
		h := *b.HolderID
		c.HolderID = &h
	}
	return &c
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

// --- users ---

// UserRepo はインメモリのUserRepository。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return model.NewDuplicateEmailError()
		}
	}
	r.s.users[user.ID] = copyUser(user)
	return nil
}

func (r *UserRepo) ListByRole(_ context.Context, role model.Role) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := []*model.User{}
	for _, u := range r.s.users {
		if u.Role == role {
			users = append(users, copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (r *UserRepo) CountByRole(_ context.Context, role model.Role) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, u := range r.s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

// SetOutstandingCount は貸出中冊数を直接書き換える。ずれた状態を再現するテスト用。
func (r *UserRepo) SetOutstandingCount(_ context.Context, id string, count int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return model.NewUserNotFoundError()
	}
	u.OutstandingCount = count
	return nil
}

// --- sessions ---

// SessionRepo はインメモリのSessionRepository。
type SessionRepo struct{ s *Store }

func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *session
	r.s.sessions[session.ID] = &c
	return nil
}

func (r *SessionRepo) live(id string) *model.Session {
	sess, ok := r.s.sessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.now()) {
		return nil
	}
	return sess
}

func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess := r.live(id)
	if sess == nil {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

func (r *SessionRepo) FindPrincipal(_ context.Context, sessionID string) (*model.Principal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess := r.live(sessionID)
	if sess == nil {
		return nil, nil
	}
	u, ok := r.s.users[sess.UserID]
	if !ok {
		return nil, nil
	}
	return &model.Principal{UserID: u.ID, Role: u.Role}, nil
}

func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

func (r *SessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func (r *SessionRepo) DeleteExpired(_ context.Context, limit int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	now := r.s.now()
	for id, sess := range r.s.sessions {
		if n >= int64(limit) {
			break
		}
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- books ---

// BookRepo はインメモリのBookRepository。
type BookRepo struct{ s *Store }

func (r *BookRepo) FindByID(_ context.Context, id string) (*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.books[id]; ok {
		return copyBook(b), nil
	}
	return nil, nil
}

func (r *BookRepo) isbnTaken(isbn, exceptID string) bool {
	for id, b := range r.s.books {
		if id != exceptID && b.ISBN == isbn {
			return true
		}
	}
	return false
}

func (r *BookRepo) Create(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.isbnTaken(book.ISBN, "") {
		return model.NewDuplicateISBNError(book.ISBN)
	}
	r.s.books[book.ID] = copyBook(book)
	return nil
}

func (r *BookRepo) UpdateDetails(_ context.Context, book *model.Book) (*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.books[book.ID]
	if !ok {
		return nil, nil
	}
	if r.isbnTaken(book.ISBN, book.ID) {
		return nil, model.NewDuplicateISBNError(book.ISBN)
	}
	stored.ISBN = book.ISBN
	stored.Title = book.Title
	stored.Author = book.Author
	stored.CoverImage = book.CoverImage
	stored.Genre = book.Genre
	stored.UpdatedAt = r.s.now()
	return copyBook(stored), nil
}

func (r *BookRepo) DeleteIfAvailable(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok || b.State != model.BookAvailable {
		return false, nil
	}
	delete(r.s.books, id)
	for rid, rv := range r.s.reviews {
		if rv.BookID == id {
			delete(r.s.reviews, rid)
		}
	}
	kept := r.s.returned[:0]
	for _, row := range r.s.returned {
		if row.bookID != id {
			kept = append(kept, row)
		}
	}
	r.s.returned = kept
	return true, nil
}

func (r *BookRepo) List(_ context.Context, filter model.BookFilter) ([]*model.BookListing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	books := []*model.BookListing{}
	for _, b := range r.s.books {
		if filter.State != "" && b.State != filter.State {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) && !strings.Contains(strings.ToLower(b.Author), q) {
			continue
		}
		listing := &model.BookListing{Book: *copyBook(b)}
		if b.HolderID != nil {
			if u, ok := r.s.users[*b.HolderID]; ok {
				name, email := u.Name, u.Email
				listing.HolderName = &name
				listing.HolderEmail = &email
			}
		}
		books = append(books, listing)
	}
	sort.Slice(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.After(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

func (r *BookRepo) ListByHolder(_ context.Context, holderID string) ([]*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	books := []*model.Book{}
	for _, b := range r.s.books {
		if b.IsHeldBy(holderID) {
			books = append(books, copyBook(b))
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (r *BookRepo) CountByState(_ context.Context) (map[model.BookState]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[model.BookState]int{
		model.BookAvailable: 0,
		model.BookBorrowed:  0,
		model.BookReserved:  0,
	}
	for _, b := range r.s.books {
		counts[b.State]++
	}
	return counts, nil
}

// --- lending ---

// LendingRepo はインメモリのLendingRepository。
type LendingRepo struct{ s *Store }

func (r *LendingRepo) MutateBook(_ context.Context, bookID string, fn repository.BookMutation) (*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.books[bookID]
	if !ok {
		return nil, nil
	}

	working := copyBook(stored)
	update, err := fn(working)
	if err != nil {
		return nil, err
	}

	if update != nil {
		u, ok := r.s.users[update.UserID]
		if !ok {
			return nil, model.NewUserNotFoundError()
		}
		u.OutstandingCount += update.OutstandingDelta
		if u.OutstandingCount < 0 {
			u.OutstandingCount = 0
		}
		u.LifetimeBorrowCount += update.LifetimeDelta
		if update.ReturnedBookID != "" {
			r.s.seq++
			r.s.returned = append(r.s.returned, returnedRow{
				seq:        r.s.seq,
				userID:     update.UserID,
				bookID:     update.ReturnedBookID,
				returnedAt: update.ReturnedAt,
			})
		}
	}

	working.UpdatedAt = r.s.now()
	r.s.books[bookID] = working
	return copyBook(working), nil
}

func (r *LendingRepo) CountBorrowedByHolder(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, b := range r.s.books {
		if b.State == model.BookBorrowed && b.IsHeldBy(userID) {
			n++
		}
	}
	return n, nil
}

// RepairOutstanding は再計算と上書きを同じロック区間で行う。
func (r *LendingRepo) RepairOutstanding(_ context.Context, userID string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return 0, 0, model.NewUserNotFoundError()
	}
	actual := 0
	for _, b := range r.s.books {
		if b.State == model.BookBorrowed && b.IsHeldBy(userID) {
			actual++
		}
	}
	stored := u.OutstandingCount
	u.OutstandingCount = actual
	return stored, actual, nil
}

func (r *LendingRepo) ListReturned(_ context.Context, userID string) ([]model.ReturnedBook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	returned := []model.ReturnedBook{}
	for _, row := range r.s.returned {
		if row.userID != userID {
			continue
		}
		rb := model.ReturnedBook{BookID: row.bookID, ReturnedAt: row.returnedAt}
		if b, ok := r.s.books[row.bookID]; ok {
			rb.Title = b.Title
			rb.Author = b.Author
		}
		returned = append(returned, rb)
	}
	return returned, nil
}

func (r *LendingRepo) HasReturned(_ context.Context, userID, bookID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range r.s.returned {
		if row.userID == userID && row.bookID == bookID {
			return true, nil
		}
	}
	return false, nil
}

// --- reviews ---

// ReviewRepo はインメモリのReviewRepository。
type ReviewRepo struct{ s *Store }

func (r *ReviewRepo) FindByID(_ context.Context, id string) (*model.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rv, ok := r.s.reviews[id]; ok {
		c := *rv
		return &c, nil
	}
	return nil, nil
}

func (r *ReviewRepo) Create(_ context.Context, review *model.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *review
	r.s.reviews[review.ID] = &c
	return nil
}

func (r *ReviewRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reviews[id]; !ok {
		return false, nil
	}
	delete(r.s.reviews, id)
	return true, nil
}

func (r *ReviewRepo) withAuthor(rv *model.Review) model.ReviewWithAuthor {
	out := model.ReviewWithAuthor{Review: *rv}
	if u, ok := r.s.users[rv.UserID]; ok {
		out.AuthorName = u.Name
		out.AuthorEmail = u.Email
	}
	return out
}

func (r *ReviewRepo) sorted(keep func(*model.Review) bool) []*model.Review {
	list := []*model.Review{}
	for _, rv := range r.s.reviews {
		if keep(rv) {
			list = append(list, rv)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *ReviewRepo) ListByBook(_ context.Context, bookID string) ([]model.ReviewWithAuthor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.ReviewWithAuthor{}
	for _, rv := range r.sorted(func(rv *model.Review) bool { return rv.BookID == bookID }) {
		out = append(out, r.withAuthor(rv))
	}
	return out, nil
}

func (r *ReviewRepo) ListAll(_ context.Context) ([]model.ReviewDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.ReviewDetail{}
	for _, rv := range r.sorted(func(*model.Review) bool { return true }) {
		d := model.ReviewDetail{ReviewWithAuthor: r.withAuthor(rv)}
		if b, ok := r.s.books[rv.BookID]; ok {
			d.BookTitle = b.Title
			d.BookAuthor = b.Author
		}
		out = append(out, d)
	}
	return out, nil
}

// compile-time interface checks
var (
	_ repository.UserRepository    = (*UserRepo)(nil)
	_ repository.SessionRepository = (*SessionRepo)(nil)
	_ repository.BookRepository    = (*BookRepo)(nil)
	_ repository.LendingRepository = (*LendingRepo)(nil)
	_ repository.ReviewRepository  = (*ReviewRepo)(nil)
)
