package parser

import (
	"context"
	"testing"
)

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"pdf header", []byte("%PDF-1.7\n...rest"), true},
		{"plain text", []byte("hello world"), false},
		{"empty", nil, false},
		{"header mid-file", []byte("junk%PDF-1.7"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPDF(tt.data); got != tt.want {
				t.Errorf("IsPDF(%q) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := &PDFParser{}
	if _, err := p.Parse(context.Background(), []byte("%PDF-1.7 but not really a pdf")); err == nil {
		t.Fatal("expected error for malformed PDF")
	}
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &PDFParser{}
	if _, err := p.Parse(ctx, []byte("not even a pdf")); err == nil {
		t.Fatal("expected error")
	}
}
