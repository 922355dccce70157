package filter

import (
	"testing"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	opts := Options{
		Include: []string{`invoice`},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("archive/invoice-2024.msg") {
		t.Error("Expected file to be allowed (name matches)")
	}

	if f.Allows("archive/newsletter.msg") {
		t.Error("Expected file to be filtered out (name doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	opts := Options{
		Exclude: []string{`draft`},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("mail/report.msg") {
		t.Error("Expected file to be allowed (no draft)")
	}

	if f.Allows("mail/draft-reply.msg") {
		t.Error("Expected file to be filtered out (contains draft)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	opts := Options{
		Include: []string{"report"},
		Exclude: []string{"draft"},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	opts := Options{}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("anything.msg") {
		t.Error("Expected file to be allowed when no filters are active")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	opts := Options{
		Include: []string{"["},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error for invalid regex pattern")
	}
}

func TestFilter_BlankPatternsIgnored(t *testing.T) {
	opts := Options{
		Exclude: []string{"", "   "},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("any.msg") {
		t.Error("Expected blank patterns to leave the filter inactive")
	}
}
