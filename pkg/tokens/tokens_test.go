package tokens

import (
	"testing"
)

func TestTrim(t *testing.T) {
	words := func(msgs []string) int {
		total := 0
		for _, m := range msgs {
			total += len(m)
		}
		return total
	}

	tests := []struct {
		name        string
		in          []string
		budget      int
		want        int
		wantTrimmed bool
	}{
		{name: "fits", in: []string{"aa", "bb"}, budget: 4, want: 2},
		{name: "drops oldest", in: []string{"aaaa", "bb", "cc"}, budget: 4, want: 2, wantTrimmed: true},
		{name: "keeps last", in: []string{"aaaa", "bbbbbb"}, budget: 1, want: 1, wantTrimmed: true},
		{name: "empty", in: nil, budget: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, trimmed := Trim(tt.in, tt.budget, words)
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
			if trimmed != tt.wantTrimmed {
				t.Errorf("trimmed = %v, want %v", trimmed, tt.wantTrimmed)
			}
			if len(got) > 0 && len(tt.in) > 0 && got[len(got)-1] != tt.in[len(tt.in)-1] {
				t.Error("last message dropped")
			}
		})
	}
}
