package tpkt

// Outbound исходящее сообщение: закодированные байты и управляющий конверт
type Outbound[E any] struct {
	Envelope E
	Data     []byte
}

// Queue FIFO исходящих сообщений одного канала.
// Не потокобезопасна: защищается блокировкой вызова.
type Queue[E any] struct {
	items []Outbound[E]
}

// Push добавляет сообщение в конец очереди
func (q *Queue[E]) Push(env E, data []byte) {
	q.items = append(q.items, Outbound[E]{Envelope: env, Data: data})
}

// PushPriority сбрасывает очередь и оставляет в ней только это сообщение.
// Возвращает количество отброшенных сообщений.
func (q *Queue[E]) PushPriority(env E, data []byte) int {
	dropped := len(q.items)
	for i := range q.items {
		q.items[i] = Outbound[E]{}
	}
	q.items = append(q.items[:0], Outbound[E]{Envelope: env, Data: data})
	return dropped
}

// Pop извлекает голову очереди
func (q *Queue[E]) Pop() (Outbound[E], bool) {
	if len(q.items) == 0 {
		return Outbound[E]{}, false
	}
	head := q.items[0]
	q.items[0] = Outbound[E]{}
	q.items = q.items[1:]
	return head, true
}

// Peek возвращает голову очереди без извлечения
func (q *Queue[E]) Peek() (Outbound[E], bool) {
	if len(q.items) == 0 {
		return Outbound[E]{}, false
	}
	return q.items[0], true
}

// Len длина очереди
func (q *Queue[E]) Len() int { return len(q.items) }

// Reset очищает очередь
func (q *Queue[E]) Reset() {
	q.items = nil
}
