package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nestkv/internal/config"
	"nestkv/internal/hostkey"
)

func TestRunOneShotPersists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			base := []string{"-backend", backend, "-data-dir", dir, "-namespace", "app/" + backend}
			var out bytes.Buffer
			if err := run(context.Background(), append(base, "set", "greeting", "hi"), nil, &out); err != nil {
				t.Fatalf("set: %v", err)
			}
			out.Reset()
			if err := run(context.Background(), append(base, "get", "greeting"), nil, &out); err != nil {
				t.Fatalf("get: %v", err)
			}
			if out.String() != "\"hi\"\n" {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestRunNamespacesAreIsolated(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, []string{"-data-dir", dir, "-namespace", "a", "set", "k", "v"}, nil, &out); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	err := run(ctx, []string{"-data-dir", dir, "-namespace", "b", "get", "k"}, nil, &out)
	if !errors.Is(err, errCommandFailed) {
		t.Fatalf("run: got %v, want errCommandFailed", err)
	}
	if !strings.Contains(out.String(), "not found") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunScriptOnStdin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	in := strings.NewReader("lpush l 1 2 3\nlsum l\nquit\n")
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-backend", "memory"}, in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "OK\n6\nGoodbye.\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := [][]string{
		{"-backend", "etcd"},
		{"-backend", "memory", "-visibility", "PUBLIC"},
		{"-backend", "memory", "-log-level", "loud"},
		{"-backend", "memory", "-metrics-listen", "nope"},
		{"-no-such-flag"},
	}
	for _, args := range tests {
		if err := run(context.Background(), args, strings.NewReader(""), &bytes.Buffer{}); err == nil {
			t.Errorf("run(%v): expected error", args)
		}
	}
}

func TestRunConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := "[storage]\nbackend = \"sqlite\"\ndata_dir = \"" + filepath.ToSlash(dir) + "\"\nvisibility = \"user\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-config", path, "ns"}, nil, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "USER:default\n" {
		t.Errorf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "data.sqlite")); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.DataDir = ""
	st, err := openStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
}

func TestRunServesSSHUntilCancelled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, []string{"-backend", "memory", "-data-dir", dir, "-ssh-listen", "127.0.0.1:0"}, nil, &bytes.Buffer{})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, hostkey.PrivateFile)); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if _, err := os.Stat(filepath.Join(dir, hostkey.PrivateFile)); err != nil {
		t.Errorf("host key not created: %v", err)
	}
}
