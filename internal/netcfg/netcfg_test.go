package netcfg

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/boxlite/boxlite/internal/vmm"
)

func TestResolvePortMappingsDefaults(t *testing.T) {
	got := ResolvePortMappings(
		[]vmm.PortMapping{
			{GuestPort: 8080},                 // host defaults to guest
			{GuestPort: 443, HostPort: 8443},  // explicit host
			{GuestPort: 80, HostPort: 18080},  // overrides exposed 80
		},
		[]uint16{80, 9000},
	)
	want := []vmm.PortMapping{
		{GuestPort: 8080, HostPort: 8080},
		{GuestPort: 443, HostPort: 8443},
		{GuestPort: 80, HostPort: 18080},
		{GuestPort: 9000, HostPort: 9000},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolvePortMappingsEmpty(t *testing.T) {
	if got := ResolvePortMappings(nil, nil); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestHostAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxlite.net")
	conf := `Host registry
    HostName registry.internal.example:5000

Host mirror
    HostName mirror.example
`
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}

	aliases, err := LoadHostAliases(path)
	if err != nil {
		t.Fatalf("LoadHostAliases: %v", err)
	}
	if got := aliases.Resolve("registry"); got != "registry.internal.example:5000" {
		t.Errorf("Resolve(registry) = %q", got)
	}
	if got := aliases.Resolve("docker.io"); got != "docker.io" {
		t.Errorf("unmatched alias should pass through, got %q", got)
	}
}

func TestHostAliasesMissingFile(t *testing.T) {
	aliases, err := LoadHostAliases(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if got := aliases.Resolve("anything"); got != "anything" {
		t.Errorf("Resolve on empty set = %q", got)
	}
}
