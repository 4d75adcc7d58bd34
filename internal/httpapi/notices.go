package httpapi

import (
	"sync"

	"github.com/MimeLyc/image-translator/internal/jobs"
)

const noticeBuffer = 16

// NoticeHub fans controller notices out to every open job stream. Slow
// subscribers drop notices rather than block the controller.
type NoticeHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan jobs.Notice
}

var _ jobs.Notifier = (*NoticeHub)(nil)

func NewNoticeHub() *NoticeHub {
	return &NoticeHub{subs: make(map[int]chan jobs.Notice)}
}

func (h *NoticeHub) Notify(n jobs.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel of notices and a func that closes it.
func (h *NoticeHub) Subscribe() (<-chan jobs.Notice, func()) {
	ch := make(chan jobs.Notice, noticeBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *NoticeHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
