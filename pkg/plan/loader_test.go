package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/probe"
)

func assertFullPlan(t *testing.T, p *Plan) {
	t.Helper()

	if p.VM == nil {
		t.Fatal("expected vm")
	}
	if p.VM.ID != 100 || p.VM.Name != "truenas" {
		t.Errorf("unexpected vm %+v", p.VM)
	}
	if p.VM.StartTimeout != 90*time.Second {
		t.Errorf("expected start timeout 90s, got %s", p.VM.StartTimeout)
	}

	hc := p.VM.HealthCheck
	if hc == nil {
		t.Fatal("expected health check")
	}
	if hc.Kind != probe.KindHTTP || hc.Port != 443 || hc.Scheme != "https" || hc.Path != "/" {
		t.Errorf("unexpected health check %+v", hc)
	}
	if hc.Timeout != 240*time.Second || hc.Interval != 10*time.Second {
		t.Errorf("unexpected health check timing %s/%s", hc.Timeout, hc.Interval)
	}

	if len(p.Mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(p.Mounts))
	}
	if p.Mounts[0].Target != "/mnt/media" {
		t.Errorf("expected normalized target /mnt/media, got %q", p.Mounts[0].Target)
	}
	if p.Mounts[1].EffectiveOptions() != "rw,vers=3.0,credentials=/root/.smbcred" {
		t.Errorf("unexpected cifs options %q", p.Mounts[1].EffectiveOptions())
	}

	if len(p.Containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(p.Containers))
	}
	if p.Containers[0].Wait != 10*time.Second || p.Containers[0].DependsOnMount != "/mnt/media" {
		t.Errorf("unexpected container %+v", p.Containers[0])
	}
	if p.Containers[1].Name != "ct-102" {
		t.Errorf("expected default name ct-102, got %q", p.Containers[1].Name)
	}

	if p.Shutdown.ContainerTimeout != 45*time.Second || p.Shutdown.VMTimeout != 180*time.Second || p.Shutdown.UnmountShares {
		t.Errorf("unexpected shutdown policy %+v", p.Shutdown)
	}
}

func TestLoadYAML(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "full.yaml"))
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	assertFullPlan(t, p)
	if p.Source != filepath.Join("testdata", "full.yaml") {
		t.Errorf("unexpected source %q", p.Source)
	}
}

func TestLoadCUE(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "full.cue"))
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	assertFullPlan(t, p)
}

func TestLoadAppliesDefaults(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "minimal.yaml"))
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	if p.VM.StartTimeout != DefaultStartTimeout {
		t.Errorf("expected default start timeout, got %s", p.VM.StartTimeout)
	}
	if p.VM.HealthCheck != nil {
		t.Error("expected no health check")
	}
	if p.Containers[0].Wait != 0 || p.Containers[0].Name != "ct-101" {
		t.Errorf("unexpected container defaults %+v", p.Containers[0])
	}
	if p.Shutdown != DefaultShutdownPolicy() {
		t.Errorf("expected default shutdown policy, got %+v", p.Shutdown)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		doc    string
		want   string
	}{
		{
			name:   "unknown field",
			format: FormatYAML,
			doc:    "vm:\n  id: 100\n  cores: 4\n",
			want:   "cores",
		},
		{
			name:   "bad mount type",
			format: FormatYAML,
			doc:    "mounts:\n  - {type: smb, source: x, target: /mnt/x}\n",
			want:   "mounts[0].type",
		},
		{
			name:   "relative target",
			format: FormatYAML,
			doc:    "mounts:\n  - {type: nfs, source: 'nas:/x', target: mnt/x}\n",
			want:   "absolute",
		},
		{
			name:   "duplicate target",
			format: FormatYAML,
			doc:    "mounts:\n  - {type: nfs, source: 'a:/x', target: /mnt/x}\n  - {type: nfs, source: 'b:/x', target: /mnt/x/}\n",
			want:   "already used",
		},
		{
			name:   "duplicate container",
			format: FormatYAML,
			doc:    "containers:\n  - {id: 101}\n  - {id: 101}\n",
			want:   "duplicate id 101",
		},
		{
			name:   "container reuses vm id",
			format: FormatYAML,
			doc:    "vm: {id: 100}\ncontainers:\n  - {id: 100}\n",
			want:   "already used by the vm",
		},
		{
			name:   "undeclared dependency",
			format: FormatYAML,
			doc:    "containers:\n  - {id: 101, depends_on_mount: /mnt/media}\n",
			want:   "not a declared mount target",
		},
		{
			name:   "unknown health check type",
			format: FormatYAML,
			doc:    "vm:\n  id: 100\n  health_check: {type: icmp, host: nas}\n",
			want:   "vm.health_check.type failed probekind",
		},
		{
			name:   "tcp without port",
			format: FormatYAML,
			doc:    "vm:\n  id: 100\n  health_check: {type: tcp, host: nas}\n",
			want:   "requires a port",
		},
		{
			name:   "negative wait",
			format: FormatYAML,
			doc:    "containers:\n  - {id: 101, wait: -1}\n",
			want:   "wait",
		},
		{
			name:   "wait beyond a day",
			format: FormatYAML,
			doc:    "containers:\n  - {id: 101, wait: 10000000000}\n",
			want:   "containers[0].wait failed max=86400",
		},
		{
			name:   "shutdown timeout beyond a day",
			format: FormatYAML,
			doc:    "vm: {id: 100}\nshutdown: {vm_timeout: 10000000000}\n",
			want:   "shutdown.vm_timeout failed max=86400",
		},
		{
			name:   "health timeout beyond a day",
			format: FormatYAML,
			doc:    "vm:\n  id: 100\n  health_check: {type: ping, host: nas, timeout: 86401}\n",
			want:   "timeout failed max=86400",
		},
		{
			name:   "cue wait beyond a day",
			format: FormatCUE,
			doc:    `containers: [{id: 101, wait: 10000000000}]`,
			want:   "schema violation",
		},
		{
			name:   "empty plan",
			format: FormatYAML,
			doc:    "",
			want:   "no resources",
		},
		{
			name:   "cue schema violation",
			format: FormatCUE,
			doc:    `mounts: [{type: "smb", source: "x", target: "/mnt/x"}]`,
			want:   "schema violation",
		},
		{
			name:   "cue unknown field",
			format: FormatCUE,
			doc:    `vm: {id: 100, cores: 4}`,
			want:   "schema violation",
		},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.doc), tt.format, "test")
			if !errors.Is(err, ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	if f, err := FormatFromPath("/etc/pvestack/plan.yml"); err != nil || f != FormatYAML {
		t.Errorf("expected yaml, got %s %v", f, err)
	}
	if f, err := FormatFromPath("plan.cue"); err != nil || f != FormatCUE {
		t.Errorf("expected cue, got %s %v", f, err)
	}
	if _, err := FormatFromPath("plan.toml"); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestEffectiveOptions(t *testing.T) {
	tests := []struct {
		mount MountSpec
		want  string
	}{
		{MountSpec{Kind: MountKindNFS}, "rw,soft,intr"},
		{MountSpec{Kind: MountKindCIFS}, "rw,vers=3.0"},
		{MountSpec{Kind: MountKindNFS, Options: "ro,hard"}, "ro,hard"},
		{MountSpec{Kind: MountKindCIFS, Credentials: "/root/.smb"}, "rw,vers=3.0,credentials=/root/.smb"},
		{MountSpec{Kind: MountKindCIFS, Options: "rw", Credentials: "/root/.smb"}, "rw,credentials=/root/.smb"},
	}

	for _, tt := range tests {
		if got := tt.mount.EffectiveOptions(); got != tt.want {
			t.Errorf("%+v: expected %q, got %q", tt.mount, tt.want, got)
		}
	}
}

func TestMountByTarget(t *testing.T) {
	p := &Plan{Mounts: []MountSpec{{Kind: MountKindNFS, Target: "/mnt/media"}}}

	if _, ok := p.MountByTarget("/mnt/media/"); !ok {
		t.Error("expected lookup with trailing slash to match")
	}
	if _, ok := p.MountByTarget("/mnt/other"); ok {
		t.Error("expected no match")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte("vm: {id: 100}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		plans []*Plan
	)
	loaded := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewLoader(zerolog.Nop()).Watch(ctx, path, func(p *Plan, err error) {
			if err != nil {
				t.Errorf("unexpected load error: %v", err)
				return
			}
			mu.Lock()
			plans = append(plans, p)
			mu.Unlock()
			loaded <- struct{}{}
		})
	}()

	select {
	case <-loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("initial load not reported")
	}

	if err := os.WriteFile(path, []byte("vm: {id: 200}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not reported")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	last := plans[len(plans)-1]
	if last.VM.ID != 200 {
		t.Errorf("expected reloaded vm id 200, got %d", last.VM.ID)
	}
}
