package linker

import "testing"

func TestDemangle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain name untouched",
			in:   "xdp_pass",
			want: "xdp_pass",
		},
		{
			name: "legacy path with hash",
			in:   "_ZN7mycrate4prog17h0123456789abcdefE",
			want: "mycrate::prog",
		},
		{
			name: "nested path",
			in:   "_ZN4core3ptr4read17habcdefabcdefabcdE",
			want: "core::ptr::read",
		},
		{
			name: "escaped generics",
			in:   "_ZN33_$LT$alloc..vec..Vec$LT$T$GT$$GT$3new17haaaaaaaaaaaaaaaaE",
			want: "_<alloc::vec::Vec<T>>::new",
		},
		{
			name: "truncated input falls back",
			in:   "_ZN7mycra",
			want: "_ZN7mycra",
		},
		{
			name: "non length prefix falls back",
			in:   "_ZNxyz",
			want: "_ZNxyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := demangle(tt.in); got != tt.want {
				t.Errorf("demangle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
