package addr

import (
	"errors"
	"testing"
)

func TestChecksum_KnownVectors(t *testing.T) {
	// Reference vectors from EIP-55.
	cases := map[string]string{
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb": "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb": "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for in, want := range cases {
		got, err := Checksum(in)
		if err != nil {
			t.Fatalf("Checksum(%s): %v", in, err)
		}
		if got != want {
			t.Errorf("Checksum(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestChecksum_Idempotent(t *testing.T) {
	in := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	got, err := Checksum(in)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if got != in {
		t.Errorf("checksum of checksummed address changed: %s", got)
	}
}

func TestChecksum_Invalid(t *testing.T) {
	for _, in := range []string{"", "0x123", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0xZZaeb6053f3e94c9b9a09f33669435e7ef1beaed"} {
		if _, err := Checksum(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Checksum(%q): expected ErrInvalidAddress, got %v", in, err)
		}
	}
}

func TestIsBlackhole(t *testing.T) {
	if !IsBlackhole("0x000000000000000000000000000000000000dEaD") {
		t.Error("dead address not detected as blackhole")
	}
	if IsBlackhole("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed") {
		t.Error("regular address flagged as blackhole")
	}
}
