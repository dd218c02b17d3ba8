package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var binaryPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "gatekeeper-test")
	if err != nil {
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	binaryPath = filepath.Join(dir, "gatekeeper")
	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = "."
	if err := cmd.Run(); err != nil {
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type hookOutput struct {
	HookSpecificOutput struct {
		HookEventName            string `json:"hookEventName"`
		PermissionDecision       string `json:"permissionDecision"`
		PermissionDecisionReason string `json:"permissionDecisionReason"`
	} `json:"hookSpecificOutput"`
}

// project is an isolated project directory with its own audit log.
type project struct {
	dir  string
	home string
}

func newProject(t *testing.T) project {
	t.Helper()
	return project{dir: t.TempDir(), home: t.TempDir()}
}

func (p project) run(t *testing.T, stdin string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(),
		"HOME="+p.home,
		"GATEKEEPER_PROJECT_DIR="+p.dir,
		"GATEKEEPER_POLICY=",
		"GATEKEEPER_AUDIT_DRIVER=file",
		"GATEKEEPER_AUDIT_PATH=audit.jsonl",
	)
	cmd.Stdin = bytes.NewBufferString(stdin)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	exitCode = 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("cannot run binary: %v", err)
	}

	return outBuf.String(), errBuf.String(), exitCode
}

func makeInput(tool string, toolInput map[string]interface{}) string {
	input := map[string]interface{}{
		"hook_event_name": "PreToolUse",
		"session_id":      "test",
		"tool_name":       tool,
		"tool_input":      toolInput,
	}
	data, _ := json.Marshal(input)
	return string(data)
}

func bashInput(command string) string {
	return makeInput("Bash", map[string]interface{}{"command": command})
}

func TestHookAllows(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ls", bashInput("ls -la")},
		{"git status", bashInput("git status")},
		{"compound all allowed", bashInput("git status && git diff")},
		{"fetch docs", makeInput("WebFetch", map[string]interface{}{"url": "https://pkg.go.dev/net/http"})},
	}

	p := newProject(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := p.run(t, tt.input, "hook")

			if exitCode != 0 {
				t.Fatalf("expected exit 0, got %d (stderr: %s)", exitCode, stderr)
			}

			var output hookOutput
			if err := json.Unmarshal([]byte(stdout), &output); err != nil {
				t.Fatalf("cannot parse output %q: %v", stdout, err)
			}

			if output.HookSpecificOutput.HookEventName != "PreToolUse" {
				t.Errorf("hookEventName = %q", output.HookSpecificOutput.HookEventName)
			}
			if output.HookSpecificOutput.PermissionDecision != "allow" {
				t.Errorf("expected allow, got %s", output.HookSpecificOutput.PermissionDecision)
			}
			if !strings.HasPrefix(output.HookSpecificOutput.PermissionDecisionReason, "Auto-allowed:") {
				t.Errorf("unexpected reason %q", output.HookSpecificOutput.PermissionDecisionReason)
			}
		})
	}
}

func TestHookDenies(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"force push", bashInput("git push --force origin main"), "Denied: force push is not allowed."},
		{"inline python", bashInput("uv run python -c 'print(1)'"), "Denied: inline python is not allowed."},
		{"piggyback", bashInput("ls && python3 evil.py"), "Denied: bare python is not allowed."},
	}

	p := newProject(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := p.run(t, tt.input, "hook")

			if exitCode != 0 {
				t.Fatalf("expected exit 0, got %d (stderr: %s)", exitCode, stderr)
			}

			var output hookOutput
			if err := json.Unmarshal([]byte(stdout), &output); err != nil {
				t.Fatalf("cannot parse output %q: %v", stdout, err)
			}
			if output.HookSpecificOutput.PermissionDecision != "deny" {
				t.Errorf("expected deny, got %s", output.HookSpecificOutput.PermissionDecision)
			}
			if !strings.HasPrefix(output.HookSpecificOutput.PermissionDecisionReason, tt.reason) {
				t.Errorf("reason = %q, want prefix %q", output.HookSpecificOutput.PermissionDecisionReason, tt.reason)
			}
		})
	}
}

func TestHookAsksWithoutOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unlisted command", bashInput("make test")},
		{"unlisted url", makeInput("WebFetch", map[string]interface{}{"url": "https://example.com"})},
		{"protected file", makeInput("Write", map[string]interface{}{"file_path": "pyproject.toml", "content": "[project]\n"})},
		{"test file", makeInput("Write", map[string]interface{}{"file_path": "test_app.py", "content": "def test_x(): pass\n"})},
		{"unknown tool", makeInput("Read", map[string]interface{}{"file_path": "main.go"})},
	}

	p := newProject(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := p.run(t, tt.input, "hook")

			if exitCode != 0 {
				t.Errorf("expected exit 0, got %d (stderr: %s)", exitCode, stderr)
			}
			if stdout != "" {
				t.Errorf("expected no output for ask, got %q", stdout)
			}
		})
	}
}

func TestHookEditClassification(t *testing.T) {
	p := newProject(t)
	original := "def total(xs):\n    return sum(xs)\n"
	if err := os.WriteFile(filepath.Join(p.dir, "calc.py"), []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	input := makeInput("Edit", map[string]interface{}{
		"file_path":  filepath.Join(p.dir, "calc.py"),
		"old_string": "def total(xs):",
		"new_string": "def total(xs):  ",
	})
	stdout, stderr, exitCode := p.run(t, input, "hook")
	if exitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", exitCode, stderr)
	}

	var output hookOutput
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		t.Fatalf("cannot parse output %q: %v", stdout, err)
	}
	if output.HookSpecificOutput.PermissionDecision != "allow" {
		t.Errorf("whitespace-only edit should be allowed, got %s", output.HookSpecificOutput.PermissionDecision)
	}
}

func TestHookInvalidJSON(t *testing.T) {
	p := newProject(t)
	stdout, stderr, exitCode := p.run(t, "not json", "hook")

	if exitCode != 1 {
		t.Errorf("expected exit 1 for invalid JSON, got %d", exitCode)
	}
	if stderr == "" {
		t.Error("expected error message for invalid JSON")
	}
	if stdout != "" {
		t.Errorf("expected no output, got %q", stdout)
	}
}

func TestHookDecisionsAreAudited(t *testing.T) {
	p := newProject(t)
	for _, in := range []string{bashInput("ls"), bashInput("make"), bashInput("git push -f")} {
		if _, stderr, code := p.run(t, in, "hook"); code != 0 {
			t.Fatalf("hook exit %d: %s", code, stderr)
		}
	}

	stdout, stderr, exitCode := p.run(t, "", "audit", "verify", "-o", "json")
	if exitCode != 0 {
		t.Fatalf("audit verify exit %d (stderr: %s)", exitCode, stderr)
	}
	var report struct {
		Entries int  `json:"entries"`
		OK      bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("cannot parse report %q: %v", stdout, err)
	}
	if !report.OK || report.Entries != 3 {
		t.Errorf("report = %+v, want 3 verified entries", report)
	}

	stdout, _, _ = p.run(t, "", "audit", "tail", "-n", "1", "-o", "json")
	var entries []struct {
		Seq     int64  `json:"seq"`
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("cannot parse tail %q: %v", stdout, err)
	}
	if len(entries) != 1 || entries[0].Seq != 3 || entries[0].Verdict != "deny" {
		t.Errorf("tail = %+v", entries)
	}
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	p := newProject(t)
	p.run(t, bashInput("ls"), "hook")
	p.run(t, bashInput("make"), "hook")

	logPath := filepath.Join(p.dir, "audit.jsonl")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"verdict":"ask"`, `"verdict":"allow"`, 1)
	if tampered == string(data) {
		t.Fatal("fixture did not contain an ask entry")
	}
	os.WriteFile(logPath, []byte(tampered), 0600)

	_, stderr, exitCode := p.run(t, "", "audit", "verify")
	if exitCode != 1 {
		t.Errorf("expected exit 1 for a broken chain, got %d", exitCode)
	}
	if stderr == "" {
		t.Error("expected an error message")
	}
}

func TestDecideCommand(t *testing.T) {
	p := newProject(t)
	stdout, stderr, exitCode := p.run(t, "", "decide", "--kind", "bash", "--subject", "ls -l", "-o", "json")
	if exitCode != 0 {
		t.Fatalf("decide exit %d (stderr: %s)", exitCode, stderr)
	}

	var d struct {
		ID      string `json:"id"`
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(stdout), &d); err != nil {
		t.Fatalf("cannot parse decision %q: %v", stdout, err)
	}
	if d.Verdict != "allow" || d.ID == "" {
		t.Errorf("decision = %+v", d)
	}
}

func TestClassifyCommand(t *testing.T) {
	p := newProject(t)
	before := filepath.Join(p.dir, "before.py")
	after := filepath.Join(p.dir, "after.py")
	os.WriteFile(before, []byte("a = 1\nb = 2\nc = 3\n"), 0644)
	os.WriteFile(after, []byte("a = 1\nc = 3\n"), 0644)

	stdout, stderr, exitCode := p.run(t, "", "classify", before, after, "-o", "json")
	if exitCode != 0 {
		t.Fatalf("classify exit %d (stderr: %s)", exitCode, stderr)
	}

	var v struct {
		Kind    string `json:"special_case_kind"`
		Trivial bool   `json:"trivial"`
	}
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		t.Fatalf("cannot parse verdict %q: %v", stdout, err)
	}
	if v.Kind != "pure_deletion" || !v.Trivial {
		t.Errorf("verdict = %+v, want trivial pure_deletion", v)
	}
}

func TestPolicyCheck(t *testing.T) {
	p := newProject(t)

	good := filepath.Join(p.dir, "good.yml")
	os.WriteFile(good, []byte("bash:\n  - allow: '^ls\\b'\n"), 0644)
	if _, stderr, code := p.run(t, "", "policy", "check", good); code != 0 {
		t.Errorf("valid policy rejected (exit %d): %s", code, stderr)
	}

	bad := filepath.Join(p.dir, "bad.yml")
	os.WriteFile(bad, []byte("bash:\n  - allow: '('\n"), 0644)
	_, stderr, code := p.run(t, "", "policy", "check", bad)
	if code != 1 {
		t.Errorf("expected exit 1 for an invalid policy, got %d", code)
	}
	if !strings.Contains(stderr, "bash") {
		t.Errorf("error should name the offending field, got %q", stderr)
	}
}

func TestGateList(t *testing.T) {
	p := newProject(t)
	stdout, stderr, code := p.run(t, "", "gate", "list")
	if code != 0 {
		t.Fatalf("gate list exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "pre-push") {
		t.Errorf("expected the built-in pre-push gate, got %q", stdout)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, code := newProject(t).run(t, "", "version")
	if code != 0 || !strings.HasPrefix(stdout, "gatekeeper version ") {
		t.Errorf("version output %q (exit %d)", stdout, code)
	}
}
