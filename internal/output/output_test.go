package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

type testItem struct {
	Name  string `json:"name" yaml:"name"`
	Value int    `json:"value" yaml:"value"`
}

// --- ParseFormat Tests ---

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSONL", FormatJSONL, false},
		{" yaml ", FormatYAML, false},
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Render Tests ---

func TestRender_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	items := []testItem{{"a", 1}, {"b", 2}}
	if err := Render(buf, FormatJSON, items); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got []testItem
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(got) != 2 || got[1].Name != "b" {
		t.Errorf("unexpected result: %+v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestRender_JSONL(t *testing.T) {
	buf := &bytes.Buffer{}
	items := []testItem{{"a", 1}, {"b", 2}, {"c", 3}}
	if err := Render(buf, FormatJSONL, items); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var last testItem
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("line 3 is not valid JSON: %v", err)
	}
	if last.Name != "c" {
		t.Errorf("expected c, got %q", last.Name)
	}
}

func TestRender_JSONLSingleValue(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Render(buf, FormatJSONL, testItem{"only", 1}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("expected a single line, got %d", n)
	}
}

func TestRender_YAML(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Render(buf, FormatYAML, testItem{"test", 42}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got testItem
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if got.Name != "test" || got.Value != 42 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestRender_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	tbl := Table{Columns: []string{"id", "name"}}
	tbl.Append("1", "Toyota Camry")
	tbl.Append("22", "Kia")

	if err := Render(buf, FormatTable, tbl); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("expected upper-case header, got %q", lines[0])
	}
	// columns are aligned
	if strings.Index(lines[1], "Toyota") != strings.Index(lines[2], "Kia") {
		t.Errorf("expected aligned columns:\n%s", buf.String())
	}
}

func TestRender_TableNeedsTabular(t *testing.T) {
	err := Render(&bytes.Buffer{}, FormatTable, testItem{})
	if err == nil {
		t.Fatal("expected error for non-tabular value")
	}
}

func TestRender_UnsupportedFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, Format("xml"), testItem{})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

// --- Formatting Tests ---

func TestPrice(t *testing.T) {
	amount := int64(25500)
	if got := Price(&amount, "AZN"); got != "25,500 AZN" {
		t.Errorf("expected 25,500 AZN, got %q", got)
	}
	if got := Price(nil, "AZN"); got != "-" {
		t.Errorf("expected -, got %q", got)
	}
}

func TestCount(t *testing.T) {
	n := int64(1234567)
	if got := Count(&n); got != "1,234,567" {
		t.Errorf("expected 1,234,567, got %q", got)
	}
	if got := Count(nil); got != "-" {
		t.Errorf("expected -, got %q", got)
	}
}

func TestWhen(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	past := now.Add(-3 * time.Hour)
	if got := When(&past, now); !strings.Contains(got, "3 hours ago") {
		t.Errorf("expected relative age, got %q", got)
	}
	if got := When(nil, now); got != "-" {
		t.Errorf("expected -, got %q", got)
	}
}

func TestBytes(t *testing.T) {
	if got := Bytes(10 << 20); got != "10 MiB" {
		t.Errorf("expected 10 MiB, got %q", got)
	}
}
