package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"
)

type receiptStore interface {
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	MarkRead(ctx context.Context, messageID int64, readerID int, at time.Time) (bool, error)
	ListUnreadIDs(ctx context.Context, chatID, readerID int) ([]int64, error)
	CountUnread(ctx context.Context, chatID, readerID int) (int, error)
}

type countKey struct {
	readerID int
	chatID   int
}

// ReadReceiptTracker owns per-message read state and per-(reader, room)
// unread counters. Counters are seeded from the store on first use and
// then maintained incrementally on send and on read, so unread queries
// never scan the message history.
type ReadReceiptTracker struct {
	mu     sync.Mutex
	counts map[countKey]int

	store   receiptStore
	timeout time.Duration
}

func NewReadReceiptTracker(store receiptStore, storeTimeout time.Duration) *ReadReceiptTracker {
	return &ReadReceiptTracker{
		counts:  make(map[countKey]int),
		store:   store,
		timeout: storeTimeout,
	}
}

// MarkRead records that the reader observed a message. Idempotent: a
// second call for the same pair changes nothing and reports false.
func (t *ReadReceiptTracker) MarkRead(ctx context.Context, readerID int, messageID int64) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.store.GetMessageByID(tctx, messageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	inserted, err := t.store.MarkRead(tctx, messageID, readerID, time.Now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// Deleted messages stay addressable for read history but are
	// excluded from counters; a sender never counts their own message.
	if inserted && !msg.Deleted && msg.SenderID != readerID {
		t.decrement(countKey{readerID: readerID, chatID: msg.ChatID}, 1)
	}
	return inserted, nil
}

// MarkAllRead marks every non-deleted message in the room that the
// reader has not yet read, as of a snapshot taken at entry. Messages
// created after the snapshot stay unread.
func (t *ReadReceiptTracker) MarkAllRead(ctx context.Context, readerID, chatID int) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ids, err := t.store.ListUnreadIDs(tctx, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := time.Now()
	marked := 0
	for _, id := range ids {
		inserted, err := t.store.MarkRead(tctx, id, readerID, now)
		if err != nil {
			return marked, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if inserted {
			marked++
		}
	}

	if marked > 0 {
		t.decrement(countKey{readerID: readerID, chatID: chatID}, marked)
	}
	return marked, nil
}

// UnreadCount reports the number of non-deleted messages in the room
// with no read entry for the reader. Served from the maintained counter,
// seeded from the store the first time a pair is asked for.
func (t *ReadReceiptTracker) UnreadCount(ctx context.Context, readerID, chatID int) (int, error) {
	key := countKey{readerID: readerID, chatID: chatID}

	t.mu.Lock()
	if n, ok := t.counts[key]; ok {
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.store.CountUnread(tctx, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// A send may have bumped the counter while we were seeding; the
	// store count taken afterwards already includes that message.
	if cached, ok := t.counts[key]; ok && cached > n {
		return cached, nil
	}
	t.counts[key] = n
	return n, nil
}

// OnMessageSent bumps the unread counter of every participant except
// the sender. Unseeded pairs are skipped; their first UnreadCount call
// will see the message in the store count.
func (t *ReadReceiptTracker) OnMessageSent(chatID, senderID int, participantIDs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range participantIDs {
		if id == senderID {
			continue
		}
		key := countKey{readerID: id, chatID: chatID}
		if _, ok := t.counts[key]; ok {
			t.counts[key]++
		}
	}
}

// OnMessageDeleted invalidates the room's cached counters: a soft
// delete removes the message from unread counts for readers who had
// not read it, which the cache cannot know per reader.
func (t *ReadReceiptTracker) OnMessageDeleted(chatID int) {
	t.dropCounters(chatID)
}

// OnChatDeleted drops every cached counter for a chat that no longer
// exists.
func (t *ReadReceiptTracker) OnChatDeleted(chatID int) {
	t.dropCounters(chatID)
}

func (t *ReadReceiptTracker) dropCounters(chatID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.counts {
		if key.chatID == chatID {
			delete(t.counts, key)
		}
	}
}

func (t *ReadReceiptTracker) decrement(key countKey, by int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.counts[key]; ok {
		n -= by
		if n < 0 {
			n = 0
		}
		t.counts[key] = n
	}
}
