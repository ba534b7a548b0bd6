package entity

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single proper noun",
			text: "walked around Paris all day",
			want: []string{"Paris"},
		},
		{
			name: "multi-word phrase",
			text: "flew into New York City at dawn",
			want: []string{"New York City"},
		},
		{
			name: "stop words excluded",
			text: "The cat sat. A dog barked. I watched. An owl hooted.",
			want: nil,
		},
		{
			name: "quoted substrings",
			text: `she said "hello world" and left`,
			want: []string{"hello world"},
		},
		{
			name: "mixed with dedupe",
			text: `Paris again. "Paris" is lovely. Paris forever.`,
			want: []string{"Paris"},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "no matches",
			text: "all lowercase words here",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractOrderOfAppearance(t *testing.T) {
	got := Extract(`Zurich before Amsterdam, then "first quote" at the end`)
	want := []string{"Zurich", "Amsterdam", "first quote"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractStopWordInsidePhrase(t *testing.T) {
	// "The Hague" starts with a stop word but the full phrase is kept
	// because only exact stop-word matches are excluded.
	got := Extract("visited The Hague yesterday")
	want := []string{"The Hague"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
