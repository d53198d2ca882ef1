package lending

import (
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// 各関数は行ロック下の書籍に適用される遷移を返す。
// 事前条件を満たさない場合は書籍に触れずにエラーを返す。

func borrowMutation(callerID string, now time.Time) repository.BookMutation {
	return func(book *model.Book) (*model.CounterUpdate, error) {
		if book.State != model.BookAvailable {
			return nil, model.NewBookUnavailableError(book.State)
		}
		checkOut(book, callerID, now)
		return &model.CounterUpdate{UserID: callerID, OutstandingDelta: 1, LifetimeDelta: 1}, nil
	}
}

func reserveMutation(callerID string) repository.BookMutation {
	return func(book *model.Book) (*model.CounterUpdate, error) {
		if book.State != model.BookAvailable {
			return nil, model.NewBookUnavailableError(book.State)
		}
		holder := callerID
		book.State = model.BookReserved
		book.HolderID = &holder
		return nil, nil
	}
}

func returnMutation(callerID string, now time.Time) repository.BookMutation {
	return func(book *model.Book) (*model.CounterUpdate, error) {
		if book.State != model.BookBorrowed || !book.IsHeldBy(callerID) {
			return nil, model.NewNotHolderError()
		}
		release(book)
		return &model.CounterUpdate{
			UserID:           callerID,
			OutstandingDelta: -1,
			ReturnedBookID:   book.ID,
			ReturnedAt:       now,
		}, nil
	}
}

func cancelMutation(callerID string) repository.BookMutation {
	return func(book *model.Book) (*model.CounterUpdate, error) {
		if book.State != model.BookReserved || !book.IsHeldBy(callerID) {
			return nil, model.NewNotHolderError()
		}
		release(book)
		return nil, nil
	}
}

func checkoutMutation(callerID string, now time.Time) repository.BookMutation {
	return func(book *model.Book) (*model.CounterUpdate, error) {
		if book.State != model.BookReserved || !book.IsHeldBy(callerID) {
			return nil, model.NewNotHolderError()
		}
		checkOut(book, callerID, now)
		return &model.CounterUpdate{UserID: callerID, OutstandingDelta: 1, LifetimeDelta: 1}, nil
	}
}

func checkOut(book *model.Book, callerID string, now time.Time) {
	holder := callerID
	borrowedAt := now
	book.State = model.BookBorrowed
	book.HolderID = &holder
	book.BorrowedAt = &borrowedAt
}

func release(book *model.Book) {
	book.State = model.BookAvailable
	book.HolderID = nil
	book.BorrowedAt = nil
}
