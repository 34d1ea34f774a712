package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRendersFilter(t *testing.T) {
	t.Parallel()

	s := Default()
	out, err := s.RenderProductFilter(`[{"name":"Business Cards","category":"Cards"}]`, "business cards")
	if err != nil {
		t.Fatalf("RenderProductFilter failed: %v", err)
	}
	if !strings.Contains(out, `"Business Cards"`) || !strings.Contains(out, `synonyms of: "business cards"`) {
		t.Errorf("unexpected prompt: %q", out)
	}
	if !strings.Contains(s.System, "update_option_selection") {
		t.Error("expected default system prompt to reference the tools")
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "system: |\n  You quote print products.\nproduct_filter: \"Match {{.Category}} in {{.Products}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write prompt file: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.TrimSpace(s.System) != "You quote print products." {
		t.Errorf("unexpected system prompt %q", s.System)
	}
	if s.ProductFilterSystem != DefaultProductFilterSystem {
		t.Errorf("expected default filter system prompt, got %q", s.ProductFilterSystem)
	}
	out, err := s.RenderProductFilter("[]", "flyers")
	if err != nil {
		t.Fatalf("RenderProductFilter failed: %v", err)
	}
	if out != "Match flyers in []" {
		t.Errorf("unexpected render %q", out)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("product_filter: \"{{.Category\"\n"), 0o600); err != nil {
		t.Fatalf("write prompt file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for broken template")
	}

	s, err := Load("")
	if err != nil || s.System != DefaultSystem {
		t.Errorf("expected defaults for empty path, got %v", err)
	}
}
