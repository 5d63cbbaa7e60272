// Package rtpanic implements the three fatal-error taxonomies described in
// spec.md §7: a safety panic (a memory-safety violation caught by the
// capability checks), an internal panic (a runtime/compiler contract
// violation, implying a bug rather than a user-visible safety issue), and a
// user panic (a user-triggered abort). None of these are meant to be
// recovered by ordinary application code; the teacher runtime never
// propagates exceptions through its allocator or collector, and neither do
// we.
package rtpanic

import "fmt"

// Kind distinguishes the three fatal-error taxonomies.
type Kind int

const (
	// Safety marks a memory-capability violation: bounds, alignment,
	// freed-object, readonly, or type-mismatch access.
	Safety Kind = iota
	// Internal marks a runtime contract violation that is not itself a
	// memory-safety violation (e.g. an assertion about collector state).
	Internal
	// User marks a user-triggered abort.
	User
)

func (k Kind) String() string {
	switch k {
	case Safety:
		return "safety panic"
	case Internal:
		return "internal panic"
	case User:
		return "user panic"
	default:
		return "panic"
	}
}

// Panic is a fatal runtime error. Error() always includes the kind so logs
// and panic messages are triageable at a glance.
type Panic struct {
	Kind    Kind
	Message string
}

func (p *Panic) Error() string {
	return fmt.Sprintf("%s: %s", p.Kind, p.Message)
}

// Safetyf builds a safety panic with a formatted message.
func Safetyf(format string, args ...any) *Panic {
	return &Panic{Kind: Safety, Message: fmt.Sprintf(format, args...)}
}

// Internalf builds an internal panic with a formatted message.
func Internalf(format string, args ...any) *Panic {
	return &Panic{Kind: Internal, Message: fmt.Sprintf(format, args...)}
}

// Userf builds a user panic with a formatted message.
func Userf(format string, args ...any) *Panic {
	return &Panic{Kind: User, Message: fmt.Sprintf(format, args...)}
}

// Raise panics with p. It always panics; the ExitOnPanic setting that
// rtconfig parses from CAPGC_EXIT_ON_PANIC is not consulted here or by the
// CLI.
func Raise(p *Panic) {
	panic(p)
}
