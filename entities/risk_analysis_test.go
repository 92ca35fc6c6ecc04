package entities

import (
	"live-monitor/constant"
	"testing"
)

func TestTier(t *testing.T) {
	tests := []struct {
		score float64
		want  constant.RiskTier
	}{
		{0.75, constant.RiskTierHigh},
		{0.5, constant.RiskTierMedium},
		{0.2, constant.RiskTierLow},
		{0.7, constant.RiskTierHigh},
		{0.4, constant.RiskTierMedium},
		{0.6999, constant.RiskTierMedium},
		{0.3999, constant.RiskTierLow},
		{0, constant.RiskTierLow},
		{1, constant.RiskTierHigh},
	}
	for _, tt := range tests {
		if got := Tier(tt.score); got != tt.want {
			t.Errorf("Tier(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestUserIsAdmin(t *testing.T) {
	var nilUser *User
	if nilUser.IsAdmin() {
		t.Error("nil user must not be admin")
	}
	if (&User{Role: constant.RoleUser}).IsAdmin() {
		t.Error("USER role must not be admin")
	}
	if !(&User{Role: constant.RoleAdmin}).IsAdmin() {
		t.Error("ADMIN role must be admin")
	}
}
