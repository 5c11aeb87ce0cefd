package subst

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		record string
		index  uint64
		want   []string
	}{
		{
			name:   "record placeholder with affixes",
			args:   []string{"echo", "pre{}post"},
			record: "X\n",
			index:  1,
			want:   []string{"echo", "preXpost"},
		},
		{
			name:   "stem placeholder",
			args:   []string{"convert", "{.}"},
			record: "file.txt\n",
			index:  1,
			want:   []string{"convert", "file"},
		},
		{
			name:   "index placeholder",
			args:   []string{"job", "{#}"},
			record: "anything\n",
			index:  5,
			want:   []string{"job", "5"},
		},
		{
			name:   "repeated placeholder of same kind",
			args:   []string{"cp", "{}", "{}.bak{}"},
			record: "a",
			index:  1,
			want:   []string{"cp", "a", "a.baka"},
		},
		{
			name:   "record wins over other kinds in one argument",
			args:   []string{"{}-{#}"},
			record: "r\n",
			index:  9,
			want:   []string{"r-{#}"},
		},
		{
			name:   "no placeholder passes through",
			args:   []string{"true", "--flag"},
			record: "ignored\n",
			index:  1,
			want:   []string{"true", "--flag"},
		},
		{
			name:   "crlf terminator stripped",
			args:   []string{"{}"},
			record: "win\r\n",
			index:  1,
			want:   []string{"win"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := Parse(tt.args)
			require.NoError(t, err)

			got, err := tpl.Build([]byte(tt.record), tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDoesNotMutateTemplate(t *testing.T) {
	tpl, err := Parse([]string{"echo", "{}"})
	require.NoError(t, err)

	_, err = tpl.Build([]byte("one\n"), 1)
	require.NoError(t, err)
	got, err := tpl.Build([]byte("two\n"), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo", "two"}, got)
	assert.Equal(t, []string{"echo", "{}"}, tpl.Args())
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"file.txt":        "file",
		"dir/file.tar.gz": "dir/file.tar",
		"dir.d/file":      "dir.d/file",
		".profile":        ".profile",
		"dir/.hidden":     "dir/.hidden",
		"noext":           "noext",
		"trailing.":       "trailing",
	}
	for in, want := range cases {
		if got := string(stem([]byte(in))); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildArgTooLong(t *testing.T) {
	tpl, err := Parse([]string{"echo", "x{}"}, WithMaxArgLen(8))
	require.NoError(t, err)

	_, err = tpl.Build([]byte("1234567"), 1)
	require.NoError(t, err, "exactly at the limit must succeed")

	_, err = tpl.Build([]byte("12345678"), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgTooLong))
}

func TestBuildDefaultLimit(t *testing.T) {
	tpl, err := Parse([]string{"{}"})
	require.NoError(t, err)

	_, err = tpl.Build([]byte(strings.Repeat("a", DefaultMaxArgLen+1)), 1)
	assert.ErrorIs(t, err, ErrArgTooLong)
}

func TestParseTooManySubstitutions(t *testing.T) {
	args := []string{"cmd"}
	for range DefaultMaxSubstitutions + 1 {
		args = append(args, "{}")
	}
	_, err := Parse(args)
	assert.ErrorIs(t, err, ErrTooManySubstitutions)

	_, err = ParseWithLimit(args, 32)
	assert.NoError(t, err)
}

func TestParseEntries(t *testing.T) {
	tpl, err := Parse([]string{"cmd", "{#}", "plain", "{.}.out"})
	require.NoError(t, err)

	assert.Equal(t, []Entry{{Pos: 1, Kind: KindIndex}, {Pos: 3, Kind: KindStem}}, tpl.Entries())
	assert.True(t, tpl.Has(KindIndex))
	assert.False(t, tpl.Has(KindRecord))
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)
}
