package phylum_test

import (
	"testing"

	"github.com/flashcore/phylum"
)

func newRootDirectory(t *testing.T, sectorSize, sectorCount int) (*phylum.DirectoryChain, phylum.SectorMap, phylum.SectorAllocator) {
	t.Helper()
	sectors, alloc := newMemoryBacking(t, sectorSize, sectorCount)
	pool := newPool(sectorSize)

	d := phylum.NewDirectoryChain(sectors, alloc, pool, phylum.HeadTail{Head: phylum.RootDirectorySector, Tail: phylum.RootDirectorySector})
	if err := d.FormatAt(phylum.RootDirectorySector); err != nil {
		t.Fatalf("FormatAt: %v", err)
	}
	return d, sectors, alloc
}

func TestDirectoryTouchAndFind(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	id, err := d.Touch("hello.txt")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}

	ok, file, err := d.Find("hello.txt", nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("Find: expected file to be present")
	}
	if file.ID != id {
		t.Errorf("Find ID: got %#x, want %#x", file.ID, id)
	}
}

func TestDirectoryFindMissing(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	ok, _, err := d.Find("nope.txt", nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatalf("Find: expected absent file to be reported missing")
	}
}

func TestDirectoryUnlinkThenTouchResurrects(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	if _, err := d.Touch("a.txt"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := d.Unlink("a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	ok, _, err := d.Find("a.txt", nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatalf("Find: expected unlinked file to be absent")
	}

	newID, err := d.Touch("a.txt")
	if err != nil {
		t.Fatalf("Touch (resurrect): %v", err)
	}
	ok, file, err := d.Find("a.txt", nil)
	if err != nil {
		t.Fatalf("Find after resurrect: %v", err)
	}
	if !ok || file.ID != newID {
		t.Fatalf("Find after resurrect: got ok=%v file=%+v, want present with id %#x", ok, file, newID)
	}
}

func TestDirectoryInlineFileDataAccumulates(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	id, err := d.Touch("b.txt")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := d.FileData(id, []byte("hello, ")); err != nil {
		t.Fatalf("FileData: %v", err)
	}
	if err := d.FileData(id, []byte("world")); err != nil {
		t.Fatalf("FileData: %v", err)
	}

	ok, file, err := d.Find("b.txt", nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("Find: expected file present")
	}
	if file.DirectorySize != len("hello, world") {
		t.Errorf("DirectorySize: got %d, want %d", file.DirectorySize, len("hello, world"))
	}

	var got []byte
	n, err := d.Read(id, func(fragment []byte) error {
		got = append(got, fragment...)
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len("hello, world") || string(got) != "hello, world" {
		t.Errorf("Read: got %q (%d bytes), want %q", got, n, "hello, world")
	}
}

func TestDirectoryFileAttributeLastWriteWins(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	id, err := d.Touch("c.txt")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := d.FileAttribute(id, 1, []byte{0x01}); err != nil {
		t.Fatalf("FileAttribute: %v", err)
	}
	if err := d.FileAttribute(id, 1, []byte{0x02}); err != nil {
		t.Fatalf("FileAttribute (overwrite): %v", err)
	}

	cfg := &phylum.OpenFileConfig{Attributes: []phylum.AttributeSlot{{Type: 1, Value: make([]byte, 1)}}}
	ok, _, err := d.Find("c.txt", cfg)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("Find: expected file present")
	}
	if cfg.Attributes[0].Value[0] != 0x02 {
		t.Errorf("attribute value: got %#x, want 0x02", cfg.Attributes[0].Value[0])
	}
}

// TestDirectoryReopenReusesCapturedConfig confirms a caller can refresh a
// previously-found file's attribute slots via Reopen without rebuilding or
// re-passing the OpenFileConfig it already handed to Find once.
func TestDirectoryReopenReusesCapturedConfig(t *testing.T) {
	d, _, _ := newRootDirectory(t, 256, 32)

	id, err := d.Touch("tagged.txt")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := d.FileAttribute(id, 1, []byte{0xAA}); err != nil {
		t.Fatalf("FileAttribute: %v", err)
	}

	cfg := &phylum.OpenFileConfig{Attributes: []phylum.AttributeSlot{{Type: 1, Value: make([]byte, 1)}}}
	ok, file, err := d.Find("tagged.txt", cfg)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("Find: expected file present")
	}
	if file.Cfg != cfg {
		t.Fatalf("Find did not capture cfg into FoundFile.Cfg")
	}

	if err := d.FileAttribute(id, 1, []byte{0xBB}); err != nil {
		t.Fatalf("FileAttribute (overwrite): %v", err)
	}

	ok, file, err = d.Reopen("tagged.txt", file)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if !ok {
		t.Fatalf("Reopen: expected file present")
	}
	if file.Cfg.Attributes[0].Value[0] != 0xBB {
		t.Errorf("attribute value after Reopen: got %#x, want 0xBB", file.Cfg.Attributes[0].Value[0])
	}
}
