package ratequota

import (
	"testing"
	"time"
)

func TestStrikeDelay_DoublesUpToMax(t *testing.T) {
	tests := []struct {
		n    int64
		want time.Duration
	}{
		{1, strikeBaseDelay},
		{2, strikeBaseDelay * 2},
		{3, strikeBaseDelay * 4},
		{4, strikeBaseDelay * 8},
		{100, strikeMaxDelay},
	}
	for _, tt := range tests {
		got := strikeDelay(tt.n)
		if got != tt.want {
			t.Errorf("strikeDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestFamilyConstants_Distinct(t *testing.T) {
	families := []string{FamilyInbox, FamilyTunnel, FamilyRegister, FamilyForward, FamilyAdmin, FamilyMediaUpload}
	seen := make(map[string]bool, len(families))
	for _, f := range families {
		if seen[f] {
			t.Errorf("duplicate family name %q", f)
		}
		seen[f] = true
	}
}
