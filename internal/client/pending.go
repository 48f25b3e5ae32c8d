package client

// fifo is a dispatcher-owned queue of requests awaiting a reply.
type fifo[T any] struct {
	items []T
}

func (f *fifo[T]) push(v T) {
	f.items = append(f.items, v)
}

func (f *fifo[T]) peek() (T, bool) {
	var zero T
	if len(f.items) == 0 {
		return zero, false
	}
	return f.items[0], true
}

func (f *fifo[T]) pop() (T, bool) {
	v, ok := f.peek()
	if ok {
		var zero T
		f.items[0] = zero
		f.items = f.items[1:]
	}
	return v, ok
}

func (f *fifo[T]) drain() []T {
	items := f.items
	f.items = nil
	return items
}

// pending holds in-flight requests per reply category. The server answers
// each connection in order, so the head of a category matches its next reply.
type pending struct {
	listChats fifo[*listChatsWork]
	newChat   fifo[*newChatWork]
	subscribe fifo[*subscribeWork]
	receipts  fifo[*sendWork]
	files     fifo[*getFileWork]
}

func (p *pending) len() int {
	return len(p.listChats.items) + len(p.newChat.items) + len(p.subscribe.items) +
		len(p.receipts.items) + len(p.files.items)
}

// failAll resolves every in-flight request with err.
func (p *pending) failAll(err error) {
	for _, w := range p.listChats.drain() {
		w.fail(err)
	}
	for _, w := range p.newChat.drain() {
		w.fail(err)
	}
	for _, w := range p.subscribe.drain() {
		w.fail(err)
	}
	for _, w := range p.receipts.drain() {
		w.fail(err)
	}
	for _, w := range p.files.drain() {
		w.fail(err)
	}
}
