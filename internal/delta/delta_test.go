package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name        string
		accumulated string
		fragment    string
		want        string
	}{
		{
			name:        "no overlap appends",
			accumulated: "The quick ",
			fragment:    "brown fox",
			want:        "The quick brown fox",
		},
		{
			name:        "partial overlap stripped",
			accumulated: "Hello wor",
			fragment:    "world",
			want:        "Hello world",
		},
		{
			name:        "word level overlap stripped",
			accumulated: "The quick ",
			fragment:    "quick brown",
			want:        "The quick brown",
		},
		{
			name:        "full duplicate is a no-op",
			accumulated: "alpha beta",
			fragment:    "alpha beta",
			want:        "alpha beta",
		},
		{
			name:        "tail resend is a no-op",
			accumulated: "Hello world",
			fragment:    "world",
			want:        "Hello world",
		},
		{
			name:        "empty fragment is a no-op",
			accumulated: "something",
			fragment:    "",
			want:        "something",
		},
		{
			name:        "empty accumulated takes fragment",
			accumulated: "",
			fragment:    "start",
			want:        "start",
		},
		{
			name:        "both empty",
			accumulated: "",
			fragment:    "",
			want:        "",
		},
		{
			name:        "longest overlap wins",
			accumulated: "ababab",
			fragment:    "ababx",
			want:        "abababx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.accumulated, tt.fragment))
		})
	}
}

func TestMergeNormalizesFragment(t *testing.T) {
	// Zero-width characters leak from the generation pipeline and must not
	// defeat overlap detection.
	got := Merge("Hello wor", "wor\u200bld")
	assert.Equal(t, "Hello world", got)

	got = Merge("a", "\u200c\u200d\ufeff")
	assert.Equal(t, "a", got, "fragment of only zero-width runes is a no-op")

	got = Merge("col", "umn\u00a01")
	assert.Equal(t, "column 1", got, "non-breaking space becomes a regular space")
}

func TestMergeInsertsBlockBreak(t *testing.T) {
	tests := []struct {
		name        string
		accumulated string
		fragment    string
		want        string
	}{
		{
			name:        "heading after prose",
			accumulated: "Summary follows.",
			fragment:    "## Findings",
			want:        "Summary follows.\n## Findings",
		},
		{
			name:        "list item after prose",
			accumulated: "Key points:",
			fragment:    "- spikes absent",
			want:        "Key points:\n- spikes absent",
		},
		{
			name:        "ordered item after prose",
			accumulated: "Steps:",
			fragment:    "1. review montage",
			want:        "Steps:\n1. review montage",
		},
		{
			name:        "blockquote after prose",
			accumulated: "Note.",
			fragment:    "> citation",
			want:        "Note.\n> citation",
		},
		{
			name:        "no double newline",
			accumulated: "Key points:\n",
			fragment:    "- spikes absent",
			want:        "Key points:\n- spikes absent",
		},
		{
			name:        "hash without space is not a heading",
			accumulated: "issue ",
			fragment:    "#42 is open",
			want:        "issue #42 is open",
		},
		{
			name:        "overlapping fragment skips break insertion",
			accumulated: "Key points:\n- spikes",
			fragment:    "- spikes absent",
			want:        "Key points:\n- spikes absent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.accumulated, tt.fragment))
		})
	}
}

func TestStartsBlockConstruct(t *testing.T) {
	assert.True(t, startsBlockConstruct("# Heading"))
	assert.True(t, startsBlockConstruct("###### deep"))
	assert.False(t, startsBlockConstruct("####### too deep"))
	assert.True(t, startsBlockConstruct("* item"))
	assert.False(t, startsBlockConstruct("*emphasis*"))
	assert.True(t, startsBlockConstruct("12. item"))
	assert.False(t, startsBlockConstruct("3.14 pi"))
	assert.False(t, startsBlockConstruct(""))
}
