package phylum_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/flashcore/phylum"
)

func TestFileReaderInlineMultipleFragments(t *testing.T) {
	d, sectors, alloc := newRootDirectory(t, 256, 32)

	if _, err := d.Touch("frags.txt"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ok, file, err := d.Find("frags.txt", nil)
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	id := file.ID

	if err := d.FileData(id, []byte("one-")); err != nil {
		t.Fatalf("FileData: %v", err)
	}
	if err := d.FileData(id, []byte("two-")); err != nil {
		t.Fatalf("FileData: %v", err)
	}
	if err := d.FileData(id, []byte("three")); err != nil {
		t.Fatalf("FileData: %v", err)
	}

	ok, file, err = d.Find("frags.txt", nil)
	if err != nil || !ok {
		t.Fatalf("Find (after writes): ok=%v err=%v", ok, err)
	}

	r, err := phylum.NewFileReader(d, sectors, alloc, newPool(256), file)
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, []byte("one-two-three")) {
		t.Errorf("ReadAll: got %q, want %q", got, "one-two-three")
	}
}

func TestFileReaderPositionTracksReads(t *testing.T) {
	d, sectors, alloc := newRootDirectory(t, 256, 32)

	if _, err := d.Touch("pos.txt"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ok, file, err := d.Find("pos.txt", nil)
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	if err := d.FileData(file.ID, []byte("0123456789")); err != nil {
		t.Fatalf("FileData: %v", err)
	}

	ok, file, err = d.Find("pos.txt", nil)
	if err != nil || !ok {
		t.Fatalf("Find (after write): ok=%v err=%v", ok, err)
	}
	r, err := phylum.NewFileReader(d, sectors, alloc, newPool(256), file)
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Position() != n {
		t.Errorf("Position: got %d, want %d", r.Position(), n)
	}
}
