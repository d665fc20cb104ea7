package dhcpwire

import "testing"

func TestParseMacAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MacAddress
		wantErr bool
	}{
		{
			name:  "uppercase colons",
			input: "AA:BB:CC:DD:EE:FF",
			want:  MacAddress{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		},
		{
			name:  "lowercase colons",
			input: "aa:bb:cc:dd:ee:ff",
			want:  MacAddress{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		},
		{
			name:  "dashes",
			input: "01-23-45-67-89-ab",
			want:  MacAddress{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB},
		},
		{
			name:  "surrounding whitespace",
			input: "  11:22:33:44:55:66 ",
			want:  MacAddress{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		},
		{
			name:    "too few groups",
			input:   "AA:BB:CC:DD:EE",
			wantErr: true,
		},
		{
			name:    "bad hex",
			input:   "AA:BB:CC:DD:EE:GG",
			wantErr: true,
		},
		{
			name:    "bare hex",
			input:   "AABBCCDDEEFF",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMacAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMacAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Fatalf("ParseMacAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMacAddressString(t *testing.T) {
	mac := MacAddress{0xaa, 0x0b, 0xcc, 0x1d, 0xee, 0xf2}
	if got := mac.String(); got != "AA:0B:CC:1D:EE:F2" {
		t.Fatalf("String() = %q, want AA:0B:CC:1D:EE:F2", got)
	}

	parsed, err := ParseMacAddress(mac.String())
	if err != nil {
		t.Fatalf("ParseMacAddress(String()) error = %v", err)
	}
	if parsed != mac {
		t.Fatalf("parse(format) = %v, want %v", parsed, mac)
	}
}
