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


// Package config loads the controller configuration from a YAML file and SC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Etcd       EtcdConfig       `yaml:"etcd"`
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Archive    ArchiveConfig    `yaml:"archive"`
	ChangeFeed ChangeFeedConfig `yaml:"changefeed"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type EtcdConfig struct {
	Endpoints    []string      `yaml:"endpoints"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Prefix       string        `yaml:"prefix"`
	SilenceLogs  bool          `yaml:"silence_logs"`
	LeaderKey    string        `yaml:"leader_key"`
	LeaseSeconds int           `yaml:"lease_seconds"`

	// EmbeddedDir starts an in-process etcd in this directory instead of
	// connecting to Endpoints.
	EmbeddedDir string `yaml:"embedded_dir"`
}

type ServerConfig struct {
	PublicAddr  string `yaml:"public_addr"`
	PrivateAddr string `yaml:"private_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ControllerConfig struct {
	TopicReconcileInterval time.Duration `yaml:"topic_reconcile_interval"`
	PushTimeout            time.Duration `yaml:"push_timeout"`
	PushConcurrency        int           `yaml:"push_concurrency"`
	BroadcastBuffer        int           `yaml:"broadcast_buffer"`
}

type ArchiveConfig struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	KMSKeyARN       string        `yaml:"kms_key_arn"`
	Interval        time.Duration `yaml:"interval"`
	Prefix          string        `yaml:"prefix"`
}

// Enabled reports whether archiving was configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

type ChangeFeedConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the change feed was configured.
func (c ChangeFeedConfig) Enabled() bool { return len(c.Brokers) > 0 }

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Etcd: EtcdConfig{
			Endpoints:    []string{"http://127.0.0.1:2379"},
			DialTimeout:  5 * time.Second,
			Prefix:       "/sc",
			LeaderKey:    "/sc-leader",
			LeaseSeconds: 15,
		},
		Server: ServerConfig{
			PublicAddr:  ":9003",
			PrivateAddr: ":9004",
			MetricsAddr: ":9093",
		},
		Controller: ControllerConfig{
			TopicReconcileInterval: 10 * time.Second,
			PushTimeout:            5 * time.Second,
			PushConcurrency:        16,
			BroadcastBuffer:        100,
		},
		Archive: ArchiveConfig{
			Region:   "us-east-1",
			Interval: 15 * time.Minute,
			Prefix:   "sc-metadata",
		},
		ChangeFeed: ChangeFeedConfig{Topic: "sc-metadata-changes"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("SC_LOG_LEVEL", c.Log.Level)
	c.Etcd.Endpoints = getList("SC_ETCD_ENDPOINTS", c.Etcd.Endpoints)
	c.Etcd.Username = getEnv("SC_ETCD_USERNAME", c.Etcd.Username)
	c.Etcd.Password = getEnv("SC_ETCD_PASSWORD", c.Etcd.Password)
	c.Etcd.Prefix = getEnv("SC_ETCD_PREFIX", c.Etcd.Prefix)
	c.Etcd.EmbeddedDir = getEnv("SC_EMBEDDED_ETCD_DIR", c.Etcd.EmbeddedDir)
	c.Etcd.LeaderKey = getEnv("SC_LEADER_KEY", c.Etcd.LeaderKey)
	c.Server.PublicAddr = getEnv("SC_PUBLIC_ADDR", c.Server.PublicAddr)
	c.Server.PrivateAddr = getEnv("SC_PRIVATE_ADDR", c.Server.PrivateAddr)
	c.Server.MetricsAddr = getEnv("SC_METRICS_ADDR", c.Server.MetricsAddr)
	c.Archive.Bucket = getEnv("SC_S3_BUCKET", c.Archive.Bucket)
	c.Archive.Region = getEnv("SC_S3_REGION", c.Archive.Region)
	c.Archive.Endpoint = getEnv("SC_S3_ENDPOINT", c.Archive.Endpoint)
	c.Archive.AccessKeyID = getEnv("SC_S3_ACCESS_KEY", c.Archive.AccessKeyID)
	c.Archive.SecretAccessKey = getEnv("SC_S3_SECRET_KEY", c.Archive.SecretAccessKey)
	c.Archive.KMSKeyARN = getEnv("SC_S3_KMS_ARN", c.Archive.KMSKeyARN)
	c.Archive.Prefix = getEnv("SC_ARCHIVE_PREFIX", c.Archive.Prefix)
	c.ChangeFeed.Brokers = getList("SC_CHANGEFEED_BROKERS", c.ChangeFeed.Brokers)
	c.ChangeFeed.Topic = getEnv("SC_CHANGEFEED_TOPIC", c.ChangeFeed.Topic)

	var errs []error
	bools := []struct {
		key string
		dst *bool
	}{
		{"SC_LOG_DEVELOPMENT", &c.Log.Development},
		{"SC_ETCD_SILENCE_LOGS", &c.Etcd.SilenceLogs},
		{"SC_S3_PATH_STYLE", &c.Archive.ForcePathStyle},
	}
	for _, b := range bools {
		errs = append(errs, parseBool(b.key, b.dst))
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SC_ETCD_DIAL_TIMEOUT", &c.Etcd.DialTimeout},
		{"SC_TOPIC_RECONCILE_INTERVAL", &c.Controller.TopicReconcileInterval},
		{"SC_PUSH_TIMEOUT", &c.Controller.PushTimeout},
		{"SC_ARCHIVE_INTERVAL", &c.Archive.Interval},
	}
	for _, d := range durations {
		errs = append(errs, parseDuration(d.key, d.dst))
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"SC_PUSH_CONCURRENCY", &c.Controller.PushConcurrency},
		{"SC_BROADCAST_BUFFER", &c.Controller.BroadcastBuffer},
		{"SC_LEADER_LEASE_SECONDS", &c.Etcd.LeaseSeconds},
	}
	for _, i := range ints {
		errs = append(errs, parseInt(i.key, i.dst))
	}
	return errors.Join(errs...)
}

// Validate checks the settings every deployment needs.
func (c Config) Validate() error {
	if len(c.Etcd.Endpoints) == 0 && c.Etcd.EmbeddedDir == "" {
		return fmt.Errorf("etcd.endpoints is required")
	}
	if c.Server.PublicAddr == "" {
		return fmt.Errorf("server.public_addr is required")
	}
	if c.Server.PrivateAddr == "" {
		return fmt.Errorf("server.private_addr is required")
	}
	if c.Controller.TopicReconcileInterval <= 0 {
		return fmt.Errorf("controller.topic_reconcile_interval must be positive")
	}
	if c.Controller.PushConcurrency <= 0 {
		return fmt.Errorf("controller.push_concurrency must be positive")
	}
	if c.Etcd.LeaseSeconds <= 0 {
		return fmt.Errorf("etcd.lease_seconds must be positive")
	}
	if c.Archive.Enabled() && c.Archive.Interval <= 0 {
		return fmt.Errorf("archive.interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(key string, dst *bool) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseDuration(key string, dst *time.Duration) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseInt(key string, dst *int) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}
