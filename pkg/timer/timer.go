package timer

import (
	"container/heap"
	"time"
)

// Kind тип таймера
type Kind string

const (
	// Таймеры вызова
	KindCallEstablishment Kind = "call-establishment"
	KindMSD               Kind = "msd"
	KindTCS               Kind = "tcs"
	KindOLC               Kind = "olc"
	KindCLC               Kind = "clc"
	KindRCC               Kind = "rcc"
	KindSession           Kind = "session"
	KindH245Connect       Kind = "h245-connect"

	// Таймеры клиента гейткипера
	KindGRQ Kind = "grq"
	KindRRQ Kind = "rrq"
	KindREG Kind = "reg"
	KindARQ Kind = "arq"
	KindDRQ Kind = "drq"
)

// Timer запись таймера: срок, обратный вызов и контекст
type Timer struct {
	Kind     Kind
	Channel  uint16 // номер логического канала для OLC/CLC/RCC
	Data     any
	Deadline time.Time

	callback func(*Timer)
	index    int
	list     *List
	gen      uint64
	seq      uint64
}

// Active проверяет что таймер еще находится в списке
func (t *Timer) Active() bool {
	return t != nil && t.index >= 0 && t.list != nil
}

// List упорядоченный по сроку список таймеров одного владельца.
// Не потокобезопасен: защищается блокировкой владельца.
type List struct {
	clock Clock
	h     timerHeap
	gen   uint64 // номер прохода FireExpired
	seq   uint64
}

// NewList создает список таймеров
func NewList(clock Clock) *List {
	if clock == nil {
		clock = SystemClock{}
	}
	return &List{clock: clock}
}

// Clock возвращает часы списка
func (l *List) Clock() Clock { return l.clock }

// Create добавляет таймер, срабатывающий через d
func (l *List) Create(kind Kind, d time.Duration, callback func(*Timer)) *Timer {
	return l.CreateFor(kind, 0, nil, d, callback)
}

// CreateFor добавляет таймер с номером канала и контекстом
func (l *List) CreateFor(kind Kind, channel uint16, data any, d time.Duration, callback func(*Timer)) *Timer {
	if d < 0 {
		d = 0
	}
	t := &Timer{
		Kind:     kind,
		Channel:  channel,
		Data:     data,
		Deadline: l.clock.Now().Add(d),
		callback: callback,
		list:     l,
		gen:      l.gen,
		seq:      l.seq,
	}
	l.seq++
	heap.Push(&l.h, t)
	return t
}

// Delete удаляет таймер. Возвращает false если таймер уже сработал или удален.
func (l *List) Delete(t *Timer) bool {
	if t == nil || t.list != l || t.index < 0 {
		return false
	}
	heap.Remove(&l.h, t.index)
	t.list = nil
	return true
}

// DeleteKind удаляет все таймеры данного типа
func (l *List) DeleteKind(kind Kind) int {
	return l.DeleteFunc(func(t *Timer) bool { return t.Kind == kind })
}

// DeleteChannel удаляет таймер данного типа для логического канала
func (l *List) DeleteChannel(kind Kind, channel uint16) int {
	return l.DeleteFunc(func(t *Timer) bool { return t.Kind == kind && t.Channel == channel })
}

// DeleteFunc удаляет таймеры, для которых match возвращает true
func (l *List) DeleteFunc(match func(*Timer) bool) int {
	var victims []*Timer
	for _, t := range l.h {
		if match(t) {
			victims = append(victims, t)
		}
	}
	for _, t := range victims {
		l.Delete(t)
	}
	return len(victims)
}

// StopAll удаляет все таймеры
func (l *List) StopAll() {
	for _, t := range l.h {
		t.index = -1
		t.list = nil
	}
	l.h = nil
}

// Find возвращает первый активный таймер данного типа
func (l *List) Find(kind Kind) *Timer {
	for _, t := range l.h {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

// IsActive проверяет есть ли активный таймер данного типа
func (l *List) IsActive(kind Kind) bool {
	return l.Find(kind) != nil
}

// Len количество активных таймеров
func (l *List) Len() int { return len(l.h) }

// NextTimeout время до ближайшего срабатывания. ok=false если список пуст.
func (l *List) NextTimeout() (d time.Duration, ok bool) {
	if len(l.h) == 0 {
		return 0, false
	}
	d = l.h[0].Deadline.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Wait ограничивает interval ближайшим сроком таймера
func (l *List) Wait(interval time.Duration) time.Duration {
	if d, ok := l.NextTimeout(); ok && d < interval {
		return d
	}
	return interval
}

// FireExpired вызывает все таймеры со сроком не позже текущего времени.
// Таймеры извлекаются по одному, поэтому удаленный в обратном вызове
// таймер не срабатывает. Таймеры, созданные внутри обратных вызовов,
// ждут следующего прохода.
func (l *List) FireExpired() int {
	now := l.clock.Now()
	pass := l.gen
	l.gen++

	var fired int
	for len(l.h) > 0 && !l.h[0].Deadline.After(now) && l.h[0].gen <= pass {
		t := heap.Pop(&l.h).(*Timer)
		t.list = nil
		fired++
		if t.callback != nil {
			t.callback(t)
		}
	}
	return fired
}

// timerHeap мин-куча по сроку срабатывания
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
