package core

import (
	"testing"
)

func TestParseAsset(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		want    Asset
		wantErr bool
	}{
		{
			name:   "Valid symbol",
			symbol: "BTC-USDT",
			want:   Asset{Symbol: "BTC-USDT", Base: "BTC", Quote: "USDT"},
		},
		{
			name:   "Lowercase parts are normalized",
			symbol: "eth-usdt",
			want:   Asset{Symbol: "eth-usdt", Base: "ETH", Quote: "USDT"},
		},
		{
			name:    "Missing delimiter",
			symbol:  "BTCUSDT",
			wantErr: true,
		},
		{
			name:    "Empty quote",
			symbol:  "BTC-",
			wantErr: true,
		},
		{
			name:    "Empty symbol",
			symbol:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAsset(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAsset(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAsset(%q) = %+v, want %+v", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestAssetExternal(t *testing.T) {
	asset, err := ParseAsset("BTC-USDT")
	if err != nil {
		t.Fatalf("ParseAsset() error = %v", err)
	}

	if got := asset.External(); got != "BTCUSDT" {
		t.Errorf("External() = %s, want BTCUSDT", got)
	}
}
