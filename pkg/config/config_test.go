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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sc.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Archive.Enabled() || cfg.ChangeFeed.Enabled() {
		t.Fatalf("archive and change feed should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
etcd:
  endpoints: ["http://etcd-0:2379", "http://etcd-1:2379"]
  prefix: /prod
controller:
  topic_reconcile_interval: 30s
  push_concurrency: 4
archive:
  bucket: sc-backups
  interval: 1h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"http://etcd-0:2379", "http://etcd-1:2379"}, cfg.Etcd.Endpoints); diff != "" {
		t.Fatalf("endpoints mismatch (-want +got):\n%s", diff)
	}
	if cfg.Etcd.Prefix != "/prod" || cfg.Controller.TopicReconcileInterval != 30*time.Second {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Controller.PushTimeout != 5*time.Second {
		t.Fatalf("unset fields should keep defaults, got %s", cfg.Controller.PushTimeout)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.Interval != time.Hour {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SC_ETCD_ENDPOINTS", " http://a:2379 , http://b:2379 ")
	t.Setenv("SC_PUBLIC_ADDR", "  :7003  ")
	t.Setenv("SC_LOG_DEVELOPMENT", "true")
	t.Setenv("SC_TOPIC_RECONCILE_INTERVAL", "2s")
	t.Setenv("SC_PUSH_CONCURRENCY", "3")
	t.Setenv("SC_CHANGEFEED_BROKERS", "kafka:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"http://a:2379", "http://b:2379"}, cfg.Etcd.Endpoints); diff != "" {
		t.Fatalf("endpoints mismatch (-want +got):\n%s", diff)
	}
	if cfg.Server.PublicAddr != ":7003" {
		t.Fatalf("expected trimmed address, got %q", cfg.Server.PublicAddr)
	}
	if !cfg.Log.Development || cfg.Controller.TopicReconcileInterval != 2*time.Second || cfg.Controller.PushConcurrency != 3 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if !cfg.ChangeFeed.Enabled() {
		t.Fatalf("change feed should be enabled")
	}
}

func TestEnvParseErrors(t *testing.T) {
	t.Setenv("SC_PUSH_TIMEOUT", "soon")
	t.Setenv("SC_PUSH_CONCURRENCY", "many")
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, key := range []string{"SC_PUSH_TIMEOUT", "SC_PUSH_CONCURRENCY"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error should name %s: %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no etcd", func(c *Config) { c.Etcd.Endpoints = nil }, "etcd.endpoints is required"},
		{"embedded etcd", func(c *Config) { c.Etcd.Endpoints = nil; c.Etcd.EmbeddedDir = "/tmp/sc" }, ""},
		{"no public addr", func(c *Config) { c.Server.PublicAddr = "" }, "server.public_addr is required"},
		{"zero interval", func(c *Config) { c.Controller.TopicReconcileInterval = 0 }, "controller.topic_reconcile_interval must be positive"},
		{"archive without interval", func(c *Config) { c.Archive.Bucket = "b"; c.Archive.Interval = 0 }, "archive.interval must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "etcd: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
