package faevent

import "testing"

func TestTargets_Clone(t *testing.T) {
	e := &Event{Kind: KindClone, Clone: &ClonePayload{Source: "/a/src", TargetDir: "/b", TargetName: "dst"}}
	targets, err := e.Targets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	if targets[0].AbsolutePath != "/a/src" || !targets[0].IsReadableHint {
		t.Errorf("source target = %+v, want readable /a/src", targets[0])
	}
	if targets[1].AbsolutePath != "/b/dst" || targets[1].IsReadableHint {
		t.Errorf("dest target = %+v, want non-readable /b/dst", targets[1])
	}
}

func TestTargets_Create(t *testing.T) {
	e := &Event{Kind: KindCreate, Create: &CreatePayload{Destination: NewPath{Dir: "/tmp", Filename: "f.txt"}}}
	targets, err := e.Targets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 || targets[0].AbsolutePath != "/tmp/f.txt" || targets[0].IsReadableHint {
		t.Errorf("got %+v", targets)
	}
}

func TestTargets_CopyfileDestinationVariants(t *testing.T) {
	withFile := &Event{Kind: KindCopyfile, Copyfile: &CopyfilePayload{Source: "/s", TargetFile: "/d"}}
	targets, err := withFile.Targets()
	if err != nil || targets[1].AbsolutePath != "/d" {
		t.Fatalf("target_file variant: got %+v err %v", targets, err)
	}

	withDirName := &Event{Kind: KindCopyfile, Copyfile: &CopyfilePayload{Source: "/s", TargetDir: "/dir", TargetName: "n"}}
	targets, err = withDirName.Targets()
	if err != nil || targets[1].AbsolutePath != "/dir/n" {
		t.Fatalf("target_dir/name variant: got %+v err %v", targets, err)
	}

	neither := &Event{Kind: KindCopyfile, Copyfile: &CopyfilePayload{Source: "/s"}}
	if _, err := neither.Targets(); err == nil {
		t.Error("expected validation error when neither destination shape is set")
	}
}

func TestTargets_Exchangedata(t *testing.T) {
	e := &Event{Kind: KindExchangedata, Exchangedata: &ExchangedataPayload{File1: "/a", File2: "/b"}}
	targets, err := e.Targets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tg := range targets {
		if tg.IsReadableHint {
			t.Errorf("EXCHANGEDATA targets must never be readable-hint, got %+v", tg)
		}
	}
}

func TestTargets_Link(t *testing.T) {
	e := &Event{Kind: KindLink, Link: &LinkPayload{Source: "/s", TargetDir: "/d", TargetFilename: "n"}}
	targets, err := e.Targets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if targets[0].IsReadableHint || targets[1].IsReadableHint {
		t.Error("LINK targets must never be readable-hint")
	}
	if targets[1].AbsolutePath != "/d/n" {
		t.Errorf("target = %q, want /d/n", targets[1].AbsolutePath)
	}
}

func TestTargets_Open(t *testing.T) {
	e := &Event{Kind: KindOpen, Open: &OpenPayload{File: "/f"}}
	targets, err := e.Targets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 || !targets[0].IsReadableHint {
		t.Errorf("got %+v, want single readable target", targets)
	}
}

func TestTargets_RenameDestinationVariants(t *testing.T) {
	existing := &Event{Kind: KindRename, Rename: &RenamePayload{Source: "/s", ExistingFile: "/e"}}
	targets, err := existing.Targets()
	if err != nil || targets[1].AbsolutePath != "/e" {
		t.Fatalf("existing_file variant: got %+v err %v", targets, err)
	}

	newPath := &Event{Kind: KindRename, Rename: &RenamePayload{Source: "/s", NewPath: &NewPath{Dir: "/d", Filename: "n"}}}
	targets, err = newPath.Targets()
	if err != nil || targets[1].AbsolutePath != "/d/n" {
		t.Fatalf("new_path variant: got %+v err %v", targets, err)
	}

	neither := &Event{Kind: KindRename, Rename: &RenamePayload{Source: "/s"}}
	if _, err := neither.Targets(); err == nil {
		t.Error("expected validation error when neither destination shape is set")
	}
}

func TestTargets_TruncateAndUnlink(t *testing.T) {
	tr := &Event{Kind: KindTruncate, Truncate: &TruncatePayload{Target: "/t"}}
	targets, err := tr.Targets()
	if err != nil || len(targets) != 1 || targets[0].IsReadableHint {
		t.Fatalf("truncate: got %+v err %v", targets, err)
	}

	ul := &Event{Kind: KindUnlink, Unlink: &UnlinkPayload{Target: "/u"}}
	targets, err = ul.Targets()
	if err != nil || len(targets) != 1 || targets[0].IsReadableHint {
		t.Fatalf("unlink: got %+v err %v", targets, err)
	}
}

func TestIsReadPass(t *testing.T) {
	openWrite := &Event{Kind: KindOpen, Open: &OpenPayload{File: "/f", Flags: OpenFlags{WriteBits: true}}}
	if openWrite.IsReadPass() {
		t.Error("OPEN with write bits must not be a read pass")
	}
	openRead := &Event{Kind: KindOpen, Open: &OpenPayload{File: "/f"}}
	if !openRead.IsReadPass() {
		t.Error("OPEN with no write bits must be a read pass")
	}
	clone := &Event{Kind: KindClone, Clone: &ClonePayload{Source: "/a", TargetDir: "/b", TargetName: "c"}}
	if !clone.IsReadPass() {
		t.Error("CLONE must be a read pass")
	}
	unlink := &Event{Kind: KindUnlink, Unlink: &UnlinkPayload{Target: "/t"}}
	if unlink.IsReadPass() {
		t.Error("UNLINK must never be a read pass")
	}
}
