package market

import "testing"

func TestNormalizeAssetClass(t *testing.T) {
	tests := []struct {
		in   string
		want AssetClass
	}{
		{"etf", AssetETF},
		{"ETF", AssetETF},
		{" Cash ", AssetCash},
		{"CASH", AssetCash},
		{"stock", AssetStock},
		{"bond", AssetStock},
		{"", AssetStock},
	}
	for _, tt := range tests {
		if got := NormalizeAssetClass(tt.in); got != tt.want {
			t.Errorf("NormalizeAssetClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
