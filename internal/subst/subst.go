// Package subst turns a command template plus one input record into a concrete
// argument vector.
//
// Three placeholders are recognised inside template arguments:
//
//	{}   the record, without its trailing line terminator
//	{.}  the record minus its trailing dot-suffix ("dir/file.txt" -> "dir/file")
//	{#}  the 1-based record index
//
// Each template argument is substituted with at most one placeholder kind, tried
// in that order; every occurrence of the winning kind is replaced. Arguments
// without a placeholder are passed through untouched.
package subst

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultMaxArgLen is the largest substituted argument accepted, in bytes.
	DefaultMaxArgLen = 4096

	// DefaultMaxSubstitutions caps how many template arguments may carry a placeholder.
	DefaultMaxSubstitutions = 16
)

var (
	// ErrArgTooLong reports a substituted argument over the configured maximum.
	ErrArgTooLong = errors.New("substituted argument too long")

	// ErrTooManySubstitutions reports a template with too many placeholder arguments.
	ErrTooManySubstitutions = errors.New("too many substitutions")
)

// Kind identifies a placeholder.
type Kind int

const (
	KindNone Kind = iota
	KindRecord
	KindStem
	KindIndex
)

var tokens = [...]struct {
	kind  Kind
	token string
}{
	{KindRecord, "{}"},
	{KindStem, "{.}"},
	{KindIndex, "{#}"},
}

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "{}"
	case KindStem:
		return "{.}"
	case KindIndex:
		return "{#}"
	default:
		return "none"
	}
}

// Entry is a precomputed template position that needs substitution.
type Entry struct {
	Pos  int
	Kind Kind
}

// Template is a parsed command template. It is immutable and safe to share.
type Template struct {
	args      []string
	entries   []Entry
	maxArgLen int
}

// Option configures a Template.
type Option func(*Template)

// WithMaxArgLen overrides DefaultMaxArgLen.
func WithMaxArgLen(n int) Option {
	return func(t *Template) {
		if n > 0 {
			t.maxArgLen = n
		}
	}
}

// Parse scans args once and records which positions carry a placeholder.
func Parse(args []string, opts ...Option) (*Template, error) {
	return parse(args, DefaultMaxSubstitutions, opts...)
}

// ParseWithLimit is Parse with a custom substitution ceiling.
func ParseWithLimit(args []string, maxSubst int, opts ...Option) (*Template, error) {
	return parse(args, maxSubst, opts...)
}

func parse(args []string, maxSubst int, opts ...Option) (*Template, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command template is empty")
	}
	t := &Template{
		args:      append([]string(nil), args...),
		maxArgLen: DefaultMaxArgLen,
	}
	for _, opt := range opts {
		opt(t)
	}
	for i, a := range t.args {
		if k := Classify(a); k != KindNone {
			t.entries = append(t.entries, Entry{Pos: i, Kind: k})
		}
	}
	if maxSubst > 0 && len(t.entries) > maxSubst {
		return nil, fmt.Errorf("%w: %d placeholder arguments, limit %d", ErrTooManySubstitutions, len(t.entries), maxSubst)
	}
	return t, nil
}

// Classify returns the placeholder kind an argument would be substituted with.
func Classify(arg string) Kind {
	for _, tk := range tokens {
		if strings.Contains(arg, tk.token) {
			return tk.kind
		}
	}
	return KindNone
}

// Args returns a copy of the raw template.
func (t *Template) Args() []string {
	return append([]string(nil), t.args...)
}

// Entries returns the precomputed substitution positions.
func (t *Template) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Has reports whether any argument uses placeholder kind k.
func (t *Template) Has(k Kind) bool {
	for _, e := range t.entries {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Build returns the argument vector for record. A trailing "\n" (and "\r\n") on
// record is stripped before substitution. index is the 1-based record index.
func (t *Template) Build(record []byte, index uint64) ([]string, error) {
	argv := make([]string, len(t.args))
	copy(argv, t.args)
	if len(t.entries) == 0 {
		return argv, nil
	}

	rec := chomp(record)
	for _, e := range t.entries {
		var value []byte
		switch e.Kind {
		case KindRecord:
			value = rec
		case KindStem:
			value = stem(rec)
		case KindIndex:
			value = strconv.AppendUint(nil, index, 10)
		}
		arg, err := t.replace(t.args[e.Pos], e.Kind.String(), value)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", e.Pos, err)
		}
		argv[e.Pos] = arg
	}
	return argv, nil
}

func (t *Template) replace(arg, token string, value []byte) (string, error) {
	n := strings.Count(arg, token)
	size := len(arg) + n*(len(value)-len(token))
	if size > t.maxArgLen {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrArgTooLong, size, t.maxArgLen)
	}

	var b strings.Builder
	b.Grow(size)
	rest := arg
	for {
		i := strings.Index(rest, token)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		b.Write(value)
		rest = rest[i+len(token):]
	}
	return b.String(), nil
}

func chomp(rec []byte) []byte {
	rec = bytes.TrimSuffix(rec, []byte("\n"))
	return bytes.TrimSuffix(rec, []byte("\r"))
}

// stem drops the last dot-suffix of the final path element. "a.b/c" has no
// suffix and ".profile" is left alone.
func stem(rec []byte) []byte {
	dot := bytes.LastIndexByte(rec, '.')
	if dot <= 0 {
		return rec
	}
	slash := bytes.LastIndexByte(rec, '/')
	if slash >= dot-1 {
		return rec
	}
	return rec[:dot]
}
