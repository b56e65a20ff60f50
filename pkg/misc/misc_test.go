package misc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatFileSize(t *testing.T) {
	for size, wantRes := range map[int64]string{
		8:                     "8 B",
		1 << 15:               "32 KiB",
		1 << 20:               "1024 KiB",
		3 << 20:               "3 MiB",
		3<<20 + 1<<19:         "3.5 MiB",
		3<<20 + 1<<19 + 1<<18: "3.75 MiB",
		2 << 30:               "2 GiB",
	} {
		got := FormatFileSize(size)
		require.Equal(t, wantRes, got)
	}
}

func TestDivRoundHalfUp(t *testing.T) {
	for _, tt := range []struct {
		a, b int64
		want int64
	}{
		{a: 0, b: 3, want: 0},
		{a: 10, b: 5, want: 2},
		{a: 5, b: 2, want: 3}, // 2.5
		{a: 7, b: 2, want: 4}, // 3.5
		{a: 4, b: 3, want: 1}, // 1.33
		{a: 5, b: 3, want: 2}, // 1.66
		{a: 75 * 1000, b: 667, want: 112},
	} {
		require.Equal(t, tt.want, DivRoundHalfUp(tt.a, tt.b), "%d/%d", tt.a, tt.b)
	}
}
