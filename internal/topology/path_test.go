package topology

import (
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		tier     Tier
	}{
		{
			name:     "empty is root",
			input:    "",
			expected: "/",
			tier:     TierRoot,
		},
		{
			name:     "root",
			input:    "/",
			expected: "/",
			tier:     TierRoot,
		},
		{
			name:     "workgroup",
			input:    "/WG",
			expected: "/WG",
			tier:     TierWorkgroup,
		},
		{
			name:     "trailing slash gets cleaned",
			input:    "/WG/ALPHA/",
			expected: "/WG/ALPHA",
			tier:     TierServer,
		},
		{
			name:     "share",
			input:    "WG/ALPHA/Docs",
			expected: "/WG/ALPHA/Docs",
			tier:     TierShare,
		},
		{
			name:     "leaf",
			input:    "/WG/ALPHA/Docs/a.txt",
			expected: "/WG/ALPHA/Docs/a.txt",
			tier:     TierDeeper,
		},
		{
			name:     "double dot path gets cleaned",
			input:    "/WG/ALPHA/../BETA",
			expected: "/WG/BETA",
			tier:     TierServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePath(tt.input)
			if p.String() != tt.expected {
				t.Errorf("Expected path %q, got %q", tt.expected, p.String())
			}
			if p.Tier() != tt.tier {
				t.Errorf("Expected tier %v, got %v", tt.tier, p.Tier())
			}
		})
	}
}

func TestPathLeaf(t *testing.T) {
	if !ParsePath("/WG/SRV/SHARE/file").IsLeaf() {
		t.Error("Expected depth four path to be a leaf")
	}
	if ParsePath("/WG/SRV/SHARE/dir/file").IsLeaf() {
		t.Error("Expected depth five path not to be a leaf")
	}
	if ParsePath("/WG/SRV/SHARE").IsLeaf() {
		t.Error("Expected share not to be a leaf")
	}
}

func TestPathRemote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/WG/ALPHA/Docs/sub/file.txt", "/ALPHA/Docs/sub/file.txt"},
		{"/WG/ALPHA/Docs", "/ALPHA/Docs"},
		{"/WG/ALPHA", "/ALPHA"},
		{"/WG", "/WG"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParsePath(tt.input).Remote(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestHasPrefixLine(t *testing.T) {
	tests := []struct {
		name string
		path string
		line string
		want bool
	}{
		{"exact", "/WG/ALPHA/Docs", "/WG/ALPHA/Docs", true},
		{"separator boundary", "/WG/ALPHA", "/WG/ALPHA/Docs", true},
		{"character prefix", "/WG/ALP", "/WG/ALPHA/Docs", false},
		{"workgroup character prefix", "/WORK", "/WORKGROUP2/S/X", false},
		{"root matches any line", "/", "/WG/ALPHA/Docs", true},
		{"root ignores empty line", "/", "", false},
		{"different", "/WG/BETA", "/WG/ALPHA/Docs", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePath(tt.path).HasPrefixLine(tt.line); got != tt.want {
				t.Errorf("HasPrefixLine(%q, %q) = %v, want %v", tt.path, tt.line, got, tt.want)
			}
		})
	}
}

func TestNextSegment(t *testing.T) {
	tests := []struct {
		path   string
		line   string
		want   string
		wantOK bool
	}{
		{"/", "/WG/ALPHA/Docs", "WG", true},
		{"/WG", "/WG/ALPHA/Docs", "ALPHA", true},
		{"/WG/ALPHA", "/WG/ALPHA/Docs", "Docs", true},
		{"/WG/ALPHA/Docs", "/WG/ALPHA/Docs", "", false},
		{"/WG/ALP", "/WG/ALPHA/Docs", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"|"+tt.line, func(t *testing.T) {
			got, ok := ParsePath(tt.path).NextSegment(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NextSegment = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPathParentJoin(t *testing.T) {
	p := ParsePath("/WG/ALPHA")
	if got := p.Join("Docs").String(); got != "/WG/ALPHA/Docs" {
		t.Errorf("Join: got %q", got)
	}
	if got := p.Parent().String(); got != "/WG" {
		t.Errorf("Parent: got %q", got)
	}
	if got := ParsePath("/").Parent().String(); got != "/" {
		t.Errorf("root Parent: got %q", got)
	}
	if p.Workgroup() != "WG" || p.Server() != "ALPHA" || p.Share() != "" {
		t.Errorf("unexpected components %q %q %q", p.Workgroup(), p.Server(), p.Share())
	}
}
