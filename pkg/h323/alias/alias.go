// Package alias описывает псевдонимы конечной точки H.323.
package alias

import (
	"fmt"
	"strings"

	"github.com/arzzra/h323ep/pkg/h323/wire"
)

// Type тип псевдонима
type Type uint8

const (
	H323ID Type = iota + 1
	DialedDigits
	URLID
	EmailID
	TransportID
)

var typeNames = map[Type]string{
	H323ID:       "h323-id",
	DialedDigits: "dialed-digits",
	URLID:        "url-id",
	EmailID:      "email-id",
	TransportID:  "transport-id",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("alias-type(%d)", uint8(t))
}

// ParseType разбирает имя типа
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown alias type %q", s)
}

// Alias псевдоним
type Alias struct {
	Type       Type
	Value      string
	Registered bool // подтвержден гейткипером
}

func (a Alias) String() string {
	return a.Type.String() + ":" + a.Value
}

// Same сравнивает тип и значение без учета флага регистрации
func (a Alias) Same(b Alias) bool {
	return a.Type == b.Type && a.Value == b.Value
}

// Guess определяет тип по значению: цифры - dialed-digits, "@" - email,
// схема "://" - url, иначе h323-id
func Guess(value string) Alias {
	switch {
	case value == "":
		return Alias{Type: H323ID}
	case isDigits(value):
		return Alias{Type: DialedDigits, Value: value}
	case strings.Contains(value, "://"):
		return Alias{Type: URLID, Value: value}
	case strings.Contains(value, "@"):
		return Alias{Type: EmailID, Value: value}
	}
	return Alias{Type: H323ID, Value: value}
}

func isDigits(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789#*,", r) {
			return false
		}
	}
	return true
}

// List список псевдонимов
type List []Alias

// Clone копирует список
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

func (l List) String() string {
	parts := make([]string, len(l))
	for i, a := range l {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// MarkRegistered отмечает указанные псевдонимы (или все, если subset пуст)
func (l List) MarkRegistered(subset List, registered bool) {
	for i := range l {
		if len(subset) == 0 || subset.Contains(l[i]) {
			l[i].Registered = registered
		}
	}
}

// Contains проверяет наличие псевдонима
func (l List) Contains(a Alias) bool {
	for _, x := range l {
		if x.Same(a) {
			return true
		}
	}
	return false
}

// Registered возвращает только подтвержденные псевдонимы
func (l List) Registered() List {
	var out List
	for _, a := range l {
		if a.Registered {
			out = append(out, a)
		}
	}
	return out
}

// First первый псевдоним заданного типа
func (l List) First(t Type) (Alias, bool) {
	for _, a := range l {
		if a.Type == t {
			return a, true
		}
	}
	return Alias{}, false
}

// Write кодирует список, каждый псевдоним отдельным атрибутом attr
func (l List) Write(w *wire.Writer, attr wire.Attribute) {
	for _, a := range l {
		w.Raw(attr, append([]byte{byte(a.Type)}, a.Value...))
	}
}

// Decode разбирает значение одного атрибута псевдонима
func Decode(r wire.RawAttribute) (Alias, error) {
	if len(r.Value) < 1 {
		return Alias{}, fmt.Errorf("alias attribute too short")
	}
	t := Type(r.Value[0])
	if _, ok := typeNames[t]; !ok {
		return Alias{}, fmt.Errorf("unknown alias type %d", r.Value[0])
	}
	return Alias{Type: t, Value: string(r.Value[1:])}, nil
}
