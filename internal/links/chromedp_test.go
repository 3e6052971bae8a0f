package links

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchIndustryOption(t *testing.T) {
	t.Parallel()

	texts := []string{"All industries", "Agriculture & Forestry", "Retail", "Retail Banking"}

	tests := []struct {
		name    string
		lookup  string
		wantIdx int
		wantOK  bool
	}{
		{name: "exact match beats substring", lookup: "Retail", wantIdx: 2, wantOK: true},
		{name: "case and whitespace normalized", lookup: "  retail   banking ", wantIdx: 3, wantOK: true},
		{name: "substring fallback", lookup: "Forestry", wantIdx: 1, wantOK: true},
		{name: "no match", lookup: "Mining", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx, ok := matchIndustryOption(texts, tt.lookup)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.Equal(t, tt.wantIdx, idx)
			}
		})
	}
}

func TestNormalizeOption(t *testing.T) {
	t.Parallel()

	require.Equal(t, "retail banking", normalizeOption("  Retail \n  Banking "))
	require.Equal(t, "", normalizeOption("   "))
}
