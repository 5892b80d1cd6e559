package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUnitName(t *testing.T) {
	tests := map[string]string{
		"tools/functions/add.so": "add",
		"word_count.go":          "word_count",
		"/abs/lint":              "lint",
		"archive.tar.gz":         "archive.tar",
	}
	for path, want := range tests {
		if got := UnitName(path); got != want {
			t.Errorf("UnitName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestHandlerFromSymbol(t *testing.T) {
	var typedFunc Func = okFunc
	var typedAsync AsyncFunc = func(ctx context.Context, args Args) *Future { return Resolved("x", nil) }
	plainAsync := func(ctx context.Context, args Args) *Future { return Resolved("x", nil) }
	var nilFunc Func

	tests := []struct {
		name      string
		symbol    any
		wantOK    bool
		wantAsync bool
	}{
		{name: "typed func", symbol: typedFunc, wantOK: true},
		{name: "plain func", symbol: okFunc, wantOK: true},
		{name: "typed async", symbol: typedAsync, wantOK: true, wantAsync: true},
		{name: "plain async", symbol: plainAsync, wantOK: true, wantAsync: true},
		{name: "nil func", symbol: nilFunc},
		{name: "constant", symbol: 42},
		{name: "wrong signature", symbol: func(string) string { return "" }},
		{name: "nil", symbol: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, async, ok := handlerFromSymbol(tt.symbol)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tt.wantAsync && (async == nil || fn != nil) {
				t.Fatal("want async handler only")
			}
			if !tt.wantAsync && (fn == nil || async != nil) {
				t.Fatal("want sync handler only")
			}
		})
	}
}

func TestUnitTableAndChainLoader(t *testing.T) {
	table := UnitTable{"add": {{Name: "add", Description: "Adds.", Symbol: addFunc}}}
	ctx := context.Background()

	if !table.Match("tools/functions/add.go") || table.Match("tools/functions/sub.go") {
		t.Fatal("UnitTable.Match() mismatched")
	}
	exports, err := table.Load(ctx, "add.go")
	if err != nil || len(exports) != 1 {
		t.Fatalf("UnitTable.Load() = (%v, %v)", exports, err)
	}
	if _, err := table.Load(ctx, "sub.go"); err == nil {
		t.Fatal("UnitTable.Load(missing) error = nil")
	}

	chain := ChainLoader{nil, failingLoader{unit: "add"}, table}
	if !chain.Match("add.go") {
		t.Fatal("ChainLoader.Match(add.go) = false")
	}
	if _, err := chain.Load(ctx, "add.go"); err == nil || !strings.Contains(err.Error(), "syntax error") {
		t.Fatalf("ChainLoader.Load() error = %v, want first matching loader's error", err)
	}
	if chain.Match("other.go") {
		t.Fatal("ChainLoader.Match(other.go) = true")
	}
	if _, err := chain.Load(ctx, "other.go"); err == nil {
		t.Fatal("ChainLoader.Load(other.go) error = nil")
	}
}

func TestPluginLoaderRejectsInvalidPlugin(t *testing.T) {
	loader := PluginLoader{ShadowDir: t.TempDir()}
	if !loader.Match("x.SO") || loader.Match("x.go") {
		t.Fatal("PluginLoader.Match() mismatched")
	}

	path := filepath.Join(t.TempDir(), "fake.so")
	if err := os.WriteFile(path, []byte("not an elf"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	for range 3 {
		if _, err := loader.Load(context.Background(), path); err == nil {
			t.Fatal("Load(fake.so) error = nil, want open failure")
		}
	}

	shadows, err := os.ReadDir(loader.ShadowDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(shadows) != 0 {
		t.Fatalf("shadow copies left = %v, want none", shadows)
	}

	if _, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.so")); err == nil {
		t.Fatal("Load(missing) error = nil")
	}
}
