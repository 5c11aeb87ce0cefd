package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// LimitKind is a resource that can be capped on every spawned worker.
type LimitKind string

const (
	LimitAddressSpace LimitKind = "mem"
	LimitCPUTime      LimitKind = "cpu"
	LimitStack        LimitKind = "stack"
	LimitFileSize     LimitKind = "fsize"
	LimitOpenFiles    LimitKind = "nofiles"
)

var limitAliases = map[string]LimitKind{
	"mem":     LimitAddressSpace,
	"as":      LimitAddressSpace,
	"cpu":     LimitCPUTime,
	"stack":   LimitStack,
	"fsize":   LimitFileSize,
	"nofiles": LimitOpenFiles,
	"nofile":  LimitOpenFiles,
}

// Limit is a (resource, soft limit) pair applied to every spawned worker.
// CPU time is in seconds, open files is a count, all others are bytes.
type Limit struct {
	Kind  LimitKind
	Value uint64
}

func (l Limit) String() string {
	switch l.Kind {
	case LimitCPUTime, LimitOpenFiles:
		return fmt.Sprintf("%s=%d", l.Kind, l.Value)
	default:
		return fmt.Sprintf("%s=%s", l.Kind, humanize.IBytes(l.Value))
	}
}

// ParseLimit parses one "kind=value" entry, e.g. "mem=512M" or "cpu=30".
func ParseLimit(s string) (Limit, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Limit{}, fmt.Errorf("limit %q: expected kind=value", s)
	}
	kind, ok := limitAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Limit{}, fmt.Errorf("limit %q: unknown resource %q (want mem, cpu, stack, fsize or nofiles)", s, name)
	}
	value = strings.TrimSpace(value)

	var n uint64
	var err error
	switch kind {
	case LimitCPUTime, LimitOpenFiles:
		n, err = strconv.ParseUint(value, 10, 64)
	default:
		n, err = ParseSize(value)
	}
	if err != nil {
		return Limit{}, fmt.Errorf("limit %q: invalid value: %w", s, err)
	}
	return Limit{Kind: kind, Value: n}, nil
}

// LimitList is a comma separated list of limits ("mem=1G,cpu=60").
// A later entry for the same resource replaces an earlier one.
type LimitList []Limit

// UnmarshalText implements encoding.TextUnmarshaler.
func (ll *LimitList) UnmarshalText(text []byte) error {
	var out LimitList
	for _, part := range strings.Split(string(text), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		l, err := ParseLimit(part)
		if err != nil {
			return err
		}
		out = out.with(l)
	}
	*ll = out
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (ll LimitList) MarshalText() ([]byte, error) {
	return []byte(ll.String()), nil
}

func (ll LimitList) String() string {
	parts := make([]string, len(ll))
	for i, l := range ll {
		parts[i] = l.String()
	}
	return strings.Join(parts, ",")
}

// Set implements pflag.Value. Repeated flags accumulate.
func (ll *LimitList) Set(s string) error {
	var add LimitList
	if err := add.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	for _, l := range add {
		*ll = ll.with(l)
	}
	return nil
}

// Type implements pflag.Value.
func (ll *LimitList) Type() string { return "limits" }

func (ll LimitList) with(l Limit) LimitList {
	for i := range ll {
		if ll[i].Kind == l.Kind {
			ll[i] = l
			return ll
		}
	}
	return append(ll, l)
}
