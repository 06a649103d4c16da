package config

import (
	"os"
	"testing"
)

func TestGetRPCURLInjectsKey(t *testing.T) {
	os.Setenv("TEST_RPC_KEY", "rpc-123")
	defer os.Unsetenv("TEST_RPC_KEY")

	m := NewStatic(&Config{Chains: []ChainConfig{{
		Network:      "base",
		RPCURL:       "https://rpc.example.org",
		RPCAPIKeyEnv: "TEST_RPC_KEY",
	}}})

	got := m.GetRPCURL("base")
	want := "https://rpc.example.org?api_key=rpc-123"
	if got != want {
		t.Errorf("GetRPCURL() = %q, want %q", got, want)
	}
}

func TestGetRPCURLExistingParams(t *testing.T) {
	os.Setenv("TEST_RPC_KEY_2", "rpc-789")
	defer os.Unsetenv("TEST_RPC_KEY_2")

	m := NewStatic(&Config{Chains: []ChainConfig{{
		Network:      "base",
		RPCURL:       "https://rpc.example.org?foo=bar",
		RPCAPIKeyEnv: "TEST_RPC_KEY_2",
	}}})

	got := m.GetRPCURL("base")
	want := "https://rpc.example.org?foo=bar&api_key=rpc-789"
	if got != want {
		t.Errorf("GetRPCURL() = %q, want %q", got, want)
	}
}

func TestGetRPCURLNoEnvKey(t *testing.T) {
	os.Unsetenv("TEST_RPC_KEY_MISSING")

	m := NewStatic(&Config{Chains: []ChainConfig{{
		Network:      "base",
		RPCURL:       "https://rpc.example.org",
		RPCAPIKeyEnv: "TEST_RPC_KEY_MISSING",
	}}})

	if got := m.GetRPCURL("base"); got != "https://rpc.example.org" {
		t.Errorf("GetRPCURL() = %q, want the bare URL", got)
	}
}

func TestGetRPCURLUnknownNetwork(t *testing.T) {
	m := NewStatic(&Config{})
	if got := m.GetRPCURL("ethereum"); got != "" {
		t.Errorf("GetRPCURL() = %q, want empty for an unconfigured network", got)
	}
}
