package artifact

import (
	"bytes"
	"errors"
	"os"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestWorkspace_SaveLoad(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Workspace("sess-1")
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}

	if ws.Exists("a_roll.mp4") {
		t.Fatal("artifact exists before save")
	}
	if err := ws.Save("a_roll.mp4", []byte("video"), "video/mp4"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !ws.Exists("a_roll.mp4") {
		t.Fatal("artifact missing after save")
	}

	got, err := ws.Load("a_roll.mp4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got.Data, []byte("video")) {
		t.Errorf("Data = %q, want %q", got.Data, "video")
	}
	if got.MIMEType != "video/mp4" {
		t.Errorf("MIMEType = %q, want %q", got.MIMEType, "video/mp4")
	}
}

func TestWorkspace_LoadMissing(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Workspace("sess-1")
	if _, err := ws.Load("b_roll.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
}

func TestWorkspace_Overwrite(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Workspace("sess-1")
	ws.Save("x.bin", []byte("one"), "application/octet-stream")
	ws.Save("x.bin", []byte("two"), "application/octet-stream")
	got, _ := ws.Load("x.bin")
	if string(got.Data) != "two" {
		t.Errorf("Data = %q, want %q", got.Data, "two")
	}
	if names := ws.Names(); len(names) != 1 || names[0] != "x.bin" {
		t.Errorf("Names = %v, want [x.bin]", names)
	}
}

func TestWorkspace_SessionsAreIsolated(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Workspace("sess-a")
	b, _ := m.Workspace("sess-b")
	a.Save("a_roll.mp4", []byte("a"), "video/mp4")
	if b.Exists("a_roll.mp4") {
		t.Error("artifact leaked across sessions")
	}
}

func TestWorkspace_RejectsBadNames(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Workspace("sess-1")
	for _, name := range []string{"", "..", "../escape", "dir/file", ".index.json"} {
		if err := ws.Save(name, []byte("x"), "text/plain"); err == nil {
			t.Errorf("Save(%q) expected error", name)
		}
	}
	if _, err := m.Workspace("../etc"); err == nil {
		t.Error("Workspace(../etc) expected error")
	}
}

func TestManager_ReopenKeepsMIMETypes(t *testing.T) {
	root := t.TempDir()
	m1, _ := NewManager(root)
	ws, _ := m1.Workspace("sess-1")
	ws.Save("product_image", []byte{0xff, 0xd8}, "image/jpeg")

	m2, _ := NewManager(root)
	ws2, err := m2.Workspace("sess-1")
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}
	got, err := ws2.Load("product_image")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", got.MIMEType)
	}
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Workspace("sess-1")
	ws.Save("a_roll.mp4", []byte("a"), "video/mp4")
	path := ws.Path("a_roll.mp4")

	if err := m.Remove("sess-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact still on disk after Remove: %v", err)
	}

	fresh, _ := m.Workspace("sess-1")
	if fresh.Exists("a_roll.mp4") {
		t.Error("removed artifact visible in recreated workspace")
	}
}
