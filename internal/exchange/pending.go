package exchange

import "sync"

// pendingList 记录尚未得到交易所回应的请求，用于把异步回报关联回
// 原始请求。按提交顺序保存，查找时从最新的开始，命中即移除。
type pendingList struct {
	mu      sync.Mutex
	entries []pendingEntry
}

type pendingEntry struct {
	key    string
	ticket OrderTicket
}

func (l *pendingList) add(key string, ticket OrderTicket) {
	l.mu.Lock()
	l.entries = append(l.entries, pendingEntry{key: key, ticket: ticket})
	l.mu.Unlock()
}

// take 查找并移除第一个匹配的挂起请求，返回其下单内容。
func (l *pendingList) take(key string) (OrderTicket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].key == key {
			ticket := l.entries[i].ticket
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return ticket, true
		}
	}
	return OrderTicket{}, false
}

func (l *pendingList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
