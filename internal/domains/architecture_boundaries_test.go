package domains

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const modulePath = "sendwatch/go-backend"

func TestArchitecture_DomainPackagesDisallowAdapterCompositionInfraImports(t *testing.T) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	domainsDir := filepath.Dir(currentFile)
	forbiddenPrefixes := []string{
		modulePath + "/internal/adapters",
		modulePath + "/internal/app",
		modulePath + "/internal/config",
		modulePath + "/internal/storage",
		modulePath + "/internal/securestore",
		modulePath + "/internal/platform",
		modulePath + "/cmd",
	}

	violations := scanImports(t, domainsDir, forbiddenPrefixes)
	if len(violations) > 0 {
		t.Fatalf("domain boundary violations detected:\n- %s", strings.Join(violations, "\n- "))
	}
}

func TestArchitecture_PlatformPackagesStayBelowApp(t *testing.T) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	platformDir := filepath.Join(filepath.Dir(currentFile), "..", "platform")
	forbiddenPrefixes := []string{
		modulePath + "/internal/adapters",
		modulePath + "/internal/app",
		modulePath + "/internal/config",
		modulePath + "/internal/storage",
	}

	violations := scanImports(t, platformDir, forbiddenPrefixes)
	if len(violations) > 0 {
		t.Fatalf("platform boundary violations detected:\n- %s", strings.Join(violations, "\n- "))
	}
}

// scanImports lists non-test files under root importing any forbidden prefix.
func scanImports(t *testing.T, root string, forbidden []string) []string {
	t.Helper()
	fset := token.NewFileSet()
	var violations []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return fmt.Errorf("parse file %s: %w", path, err)
		}
		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, prefix := range forbidden {
				if !hasPrefixImport(importPath, prefix) {
					continue
				}
				pos := fset.Position(imp.Path.Pos())
				relPath, relErr := filepath.Rel(root, path)
				if relErr != nil {
					relPath = path
				}
				violations = append(violations, fmt.Sprintf("%s:%d imports %q", relPath, pos.Line, importPath))
				break
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk %s: %v", root, walkErr)
	}
	return violations
}

func hasPrefixImport(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
