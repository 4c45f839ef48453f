// Package filters implements the predicate language used to route inbound
// messages to handlers.
//
// A Filter is a pure predicate over a message. Filters compose with And, Or
// and Not into trees that are evaluated exactly as built: And and Or short
// circuit left to right, nothing is simplified or cached, and evaluation
// never modifies the message or the session. A filter that looks at a field
// the message does not carry (text on an attachment-only message, for
// example) reports false instead of failing.
//
//	filters.And(filters.Command("start"), filters.Not(filters.Me()))
package filters

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/edgard/webmax/models"
)

// DefaultCommandPrefix is the prefix used by Command.
const DefaultCommandPrefix = "/"

// Identity gives filters read access to the authenticated account.
// ok is false until the session has logged in.
type Identity interface {
	Me() (userID int64, ok bool)
}

// Filter decides whether a message should reach a handler.
type Filter interface {
	Match(id Identity, msg *models.Message) bool
}

// Func adapts an ordinary function to the Filter interface.
type Func func(id Identity, msg *models.Message) bool

func (f Func) Match(id Identity, msg *models.Message) bool {
	if f == nil || msg == nil {
		return false
	}
	return f(id, msg)
}

func (f Func) String() string { return "func" }

type anyFilter struct{}

// Any matches every message.
func Any() Filter { return anyFilter{} }

func (anyFilter) Match(Identity, *models.Message) bool { return true }

func (anyFilter) String() string { return "any" }

type textFilter struct {
	expected string
}

// Text matches messages whose whole text equals expected, ignoring case.
// A message without text never matches.
func Text(expected string) Filter { return textFilter{expected: expected} }

func (f textFilter) Match(_ Identity, msg *models.Message) bool {
	if msg == nil || msg.Text == "" {
		return false
	}
	return strings.EqualFold(msg.Text, f.expected)
}

func (f textFilter) String() string { return fmt.Sprintf("text(%q)", f.expected) }

type commandFilter struct {
	token string
}

// Command matches messages starting with "/"+name. See CommandWithPrefix.
func Command(name string) Filter { return CommandWithPrefix(DefaultCommandPrefix, name) }

// CommandWithPrefix matches messages whose text starts with prefix+name,
// ignoring case, followed by the end of the text or by whitespace. With
// name "start", "/start" and "/start now" match while "/startup" does not.
//
// Only the command token is inspected. Arguments after it are left to the
// handler; see CommandArgs.
func CommandWithPrefix(prefix, name string) Filter {
	return commandFilter{token: prefix + name}
}

func (f commandFilter) Match(_ Identity, msg *models.Message) bool {
	if msg == nil || msg.Text == "" || f.token == "" {
		return false
	}
	text := msg.Text
	if len(text) < len(f.token) || !strings.EqualFold(text[:len(f.token)], f.token) {
		return false
	}
	if len(text) == len(f.token) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[len(f.token):])
	return unicode.IsSpace(r)
}

func (f commandFilter) String() string { return fmt.Sprintf("command(%q)", f.token) }

// CommandArgs splits the text after the first token on whitespace.
// "/ask what time is it" yields ["what", "time", "is", "it"].
func CommandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}

type userIDFilter struct {
	id int64
}

// UserID matches messages sent by the given user.
func UserID(id int64) Filter { return userIDFilter{id: id} }

func (f userIDFilter) Match(_ Identity, msg *models.Message) bool {
	return msg != nil && msg.Sender == f.id
}

func (f userIDFilter) String() string { return fmt.Sprintf("user_id(%d)", f.id) }

type typeFilter struct {
	tag string
}

// Type matches messages whose type tag equals tag exactly. Messages without
// a type tag never match.
func Type(tag string) Filter { return typeFilter{tag: tag} }

// UserType matches messages written by people.
func UserType() Filter { return Type(models.MessageTypeUser) }

func (f typeFilter) Match(_ Identity, msg *models.Message) bool {
	return msg != nil && msg.Type != "" && msg.Type == f.tag
}

func (f typeFilter) String() string { return fmt.Sprintf("type(%q)", f.tag) }

type meFilter struct{}

// Me matches messages sent by the authenticated account. It is false while
// the session has not logged in.
func Me() Filter { return meFilter{} }

func (meFilter) Match(id Identity, msg *models.Message) bool {
	if id == nil || msg == nil {
		return false
	}
	me, ok := id.Me()
	if !ok || me == 0 {
		return false
	}
	return msg.Sender == me
}

func (meFilter) String() string { return "me" }

type andFilter struct {
	left, right Filter
}

// And matches when both a and b match. b is not evaluated when a fails.
func And(a, b Filter) Filter { return andFilter{left: a, right: b} }

func (f andFilter) Match(id Identity, msg *models.Message) bool {
	return match(f.left, id, msg) && match(f.right, id, msg)
}

func (f andFilter) String() string { return fmt.Sprintf("(%s & %s)", describe(f.left), describe(f.right)) }

type orFilter struct {
	left, right Filter
}

// Or matches when a or b matches. b is not evaluated when a matches.
func Or(a, b Filter) Filter { return orFilter{left: a, right: b} }

func (f orFilter) Match(id Identity, msg *models.Message) bool {
	return match(f.left, id, msg) || match(f.right, id, msg)
}

func (f orFilter) String() string { return fmt.Sprintf("(%s | %s)", describe(f.left), describe(f.right)) }

type notFilter struct {
	inner Filter
}

// Not inverts a.
func Not(a Filter) Filter { return notFilter{inner: a} }

func (f notFilter) Match(id Identity, msg *models.Message) bool {
	return !match(f.inner, id, msg)
}

func (f notFilter) String() string { return fmt.Sprintf("~%s", describe(f.inner)) }

type noneFilter struct{}

func (noneFilter) Match(Identity, *models.Message) bool { return false }

func (noneFilter) String() string { return "none" }

// All folds fs into a left-nested And tree. With no filters it matches
// everything.
func All(fs ...Filter) Filter {
	if len(fs) == 0 {
		return Any()
	}
	acc := fs[0]
	for _, f := range fs[1:] {
		acc = And(acc, f)
	}
	return acc
}

// AnyOf folds fs into a left-nested Or tree. With no filters it matches
// nothing.
func AnyOf(fs ...Filter) Filter {
	if len(fs) == 0 {
		return noneFilter{}
	}
	acc := fs[0]
	for _, f := range fs[1:] {
		acc = Or(acc, f)
	}
	return acc
}

// Describe renders a filter tree for logs.
func Describe(f Filter) string { return describe(f) }

// match treats a nil operand as a filter that never matches.
func match(f Filter, id Identity, msg *models.Message) bool {
	if f == nil {
		return false
	}
	return f.Match(id, msg)
}

func describe(f Filter) string {
	if f == nil {
		return "nil"
	}
	if s, ok := f.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", f)
}
