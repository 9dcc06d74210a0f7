package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/pkg/profile/file"
)

const path = "/run/sarvis/profiles.json"

func write(t *testing.T, fsys afero.Fs, body string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fsys.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestStore_MissingFile(t *testing.T) {
	t.Parallel()
	s := file.New(afero.NewMemMapFs(), path)
	got, err := s.Profiles(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestStore_ReloadsOnChange(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	s := file.New(fsys, path)
	t0 := time.Unix(1000, 0)

	write(t, fsys, `{"uid":"u1","voice_vectors":[1,0]}`, t0)
	got, err := s.Profiles(context.Background())
	if err != nil || len(got) != 1 || got[0].SpeakerID != "u1" {
		t.Fatalf("first load: %+v %v", got, err)
	}

	write(t, fsys, `{"uid":"u2","voice_vectors":[0,1]}`, t0.Add(time.Second))
	got, _ = s.Profiles(context.Background())
	if len(got) != 1 || got[0].SpeakerID != "u2" {
		t.Fatalf("after change: %+v", got)
	}

	if err := fsys.Remove(path); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Profiles(context.Background())
	if len(got) != 0 {
		t.Fatalf("after remove: %+v", got)
	}
}

func TestStore_UnchangedFileIsCached(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	s := file.New(fsys, path)
	t0 := time.Unix(1000, 0)
	write(t, fsys, `{"uid":"u1","voice_vectors":[1,0]}`, t0)
	if _, err := s.Profiles(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same size and mtime: a cached store must not notice the new id.
	write(t, fsys, `{"uid":"u9","voice_vectors":[1,0]}`, t0)
	got, _ := s.Profiles(context.Background())
	if got[0].SpeakerID != "u1" {
		t.Fatalf("cache bypassed: %+v", got)
	}
}

func TestStore_BadJSONKeepsPrevious(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	s := file.New(fsys, path)
	t0 := time.Unix(1000, 0)
	write(t, fsys, `{"uid":"u1","voice_vectors":[1,0]}`, t0)
	_, _ = s.Profiles(context.Background())

	write(t, fsys, `{"uid":`, t0.Add(time.Second))
	got, err := s.Profiles(context.Background())
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(got) != 1 || got[0].SpeakerID != "u1" {
		t.Fatalf("previous profiles lost: %+v", got)
	}
}
