package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Size
		wantErr  bool
	}{
		{"bytes numeric only", "1024", 1024, false},
		{"bytes with B", "1024B", 1024, false},
		{"bytes with bytes", "100 bytes", 100, false},

		{"kilobytes K", "5K", 5 * KB, false},
		{"kilobytes KB", "5KB", 5 * KB, false},
		{"kilobytes KiB", "5KiB", 5 * KB, false},
		{"kilobytes lowercase", "5kb", 5 * KB, false},

		{"megabytes MB", "10MB", 10 * MB, false},
		{"megabytes with space", "10 MB", 10 * MB, false},
		{"gigabytes GB", "2GB", 2 * GB, false},
		{"terabytes TiB", "1TiB", 1 * TB, false},

		{"float megabytes", "1.5MB", Size(1.5 * float64(MB)), false},
		{"float gigabytes", "2.5GB", Size(2.5 * float64(GB)), false},

		{"leading whitespace", "  5MB", 5 * MB, false},
		{"trailing whitespace", "5MB  ", 5 * MB, false},

		{"zero", "0", 0, false},
		{"zero with unit", "0MB", 0, false},

		// The janitor default.
		{"five gigabytes", "5GB", 5 * GB, false},

		{"invalid format", "invalid", 0, true},
		{"empty", "", 0, true},
		{"unknown unit", "5XB", 0, true},
		{"negative not supported", "-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size, "Parse(%q) = %v, want %v", tt.input, size, tt.expected)
		})
	}
}

func TestMustParse(t *testing.T) {
	assert.NotPanics(t, func() {
		size := MustParse("5MB")
		assert.Equal(t, 5*MB, size)
	})
	assert.Panics(t, func() {
		MustParse("invalid")
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		size     Size
		expected string
	}{
		{"zero", 0, "0B"},
		{"bytes", 500, "500B"},
		{"one kilobyte", KB, "1KB"},
		{"megabytes", 10 * MB, "10MB"},
		{"gigabytes", 2 * GB, "2GB"},
		{"one terabyte", TB, "1TB"},
		{"fractional MB", Size(1.5 * float64(MB)), "1.5MB"},
		{"fractional GB", Size(2.25 * float64(GB)), "2.25GB"},
		{"1023 bytes", 1023, "1023B"},
		{"1024 bytes", 1024, "1KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.size))
		})
	}
}

func TestSize_String(t *testing.T) {
	size := 5 * MB
	assert.Equal(t, "5MB", size.String())
	assert.Equal(t, int64(5242880), size.Bytes())
}

func TestRoundTrip(t *testing.T) {
	sizes := []Size{0, B, KB, MB, GB, TB, 5 * MB, 10 * GB}

	for _, s := range sizes {
		formatted := Format(s)
		parsed, err := Parse(formatted)
		require.NoError(t, err, "Parse(Format(%v)) failed", s)
		assert.Equal(t, s, parsed, "round trip failed for %v: formatted=%q", s, formatted)
	}
}
