// Copyright 2024-2026 Aiku AI

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "roombridge "+Tag) {
		t.Errorf("output = %q", out.String())
	}
}

func TestMintCodeRequiresUser(t *testing.T) {
	rootCmd.SetArgs([]string{"mint-code", "--name", "Alice", "--config", ""})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected missing flag error")
	}
}
