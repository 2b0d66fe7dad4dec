// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

var envPattern = regexp.MustCompile(`\bSC_[A-Z0-9_]*[A-Z0-9]\b`)

func TestEnvVarsDocumented(t *testing.T) {
	root := repoRoot(t)
	doc, err := os.ReadFile(filepath.Join(root, "docs", "operations.md"))
	if err != nil {
		t.Fatalf("read operations doc: %v", err)
	}
	documented := make(map[string]bool)
	for _, name := range envPattern.FindAllString(string(doc), -1) {
		documented[name] = true
	}
	if len(documented) == 0 {
		t.Fatalf("no env vars found in operations doc")
	}

	implemented := envVarsInSource(t, root)
	for _, name := range sortedKeys(documented) {
		if !implemented[name] {
			t.Errorf("documented env var %s is not read anywhere", name)
		}
	}
	for _, name := range sortedKeys(implemented) {
		if !documented[name] {
			t.Errorf("env var %s is read but not documented", name)
		}
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Dir(filepath.Dir(wd))
}

func envVarsInSource(t *testing.T, root string) map[string]bool {
	t.Helper()
	found := make(map[string]bool)
	for _, rel := range []string{"cmd", "pkg"} {
		err := filepath.WalkDir(filepath.Join(root, rel), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			body, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			for _, name := range envPattern.FindAllString(string(body), -1) {
				found[name] = true
			}
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", rel, err)
		}
	}
	return found
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
