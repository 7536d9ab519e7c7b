// Package icsfile stores the calendar in a local iCalendar file. It is the
// offline counterpart of the Google adapter and follows the same contract.
package icsfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"calagent/internal/calerr"
	"calagent/internal/ics"
	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/store"
)

type File struct {
	path string
	loc  *time.Location
	now  func() time.Time

	mu sync.Mutex
}

func New(path string, loc *time.Location) *File {
	if loc == nil {
		loc = time.Local
	}
	return &File{path: path, loc: loc, now: time.Now}
}

func (f *File) Path() string { return f.path }

func (f *File) load(op string) ([]ics.ParsedEvent, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	events, err := ics.Parse(data, f.loc)
	if err != nil {
		return nil, &calerr.StoreError{Op: op, Kind: calerr.ErrStoreValidation, Err: err}
	}
	return events, nil
}

// save writes the calendar atomically: temp file in the same directory,
// fsync, then rename over the old file.
func (f *File) save(op string, events []ics.ParsedEvent) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return store.Unavailable(op, err)
	}

	tmp, err := os.CreateTemp(dir, ".calagent-*.ics.tmp")
	if err != nil {
		return store.Unavailable(op, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(ics.Encode(events, f.now())); err != nil {
		tmp.Close()
		return store.Unavailable(op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return store.Unavailable(op, err)
	}
	if err := tmp.Close(); err != nil {
		return store.Unavailable(op, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return store.Unavailable(op, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return store.Unavailable(op, err)
	}
	return nil
}

func (f *File) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateWindow(start, end); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events, err := f.load("fetch")
	if err != nil {
		return nil, err
	}
	out, err := ics.Occurrences(events, ics.ExpandConfig{Location: f.loc, RangeStart: start, RangeEnd: end})
	if err != nil {
		return nil, calerr.Invalid("window", "%v", err)
	}
	return out, nil
}

func (f *File) InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (store.Inserted, error) {
	if err := ctx.Err(); err != nil {
		return store.Inserted{}, err
	}
	if err := ev.Interval.Validate(); err != nil {
		return store.Inserted{}, &calerr.StoreError{Op: "insert", Kind: calerr.ErrStoreValidation, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events, err := f.load("insert")
	if err != nil {
		return store.Inserted{}, err
	}

	uid := uuid.NewString()
	ev.Link = f.link(uid)
	events = append(events, ics.FromEvent(ev, uid, rule))
	if err := f.save("insert", events); err != nil {
		return store.Inserted{}, err
	}

	appLog.Info("ics event stored", "id", uid, "path", f.path, "recurring", rule != "")
	return store.Inserted{ID: uid, Link: ev.Link}, nil
}

func (f *File) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.CalendarEvent{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events, err := f.load("get")
	if err != nil {
		return model.CalendarEvent{}, err
	}
	ev, ok := ics.Lookup(events, id, f.loc)
	if !ok {
		return model.CalendarEvent{}, store.NotFound("get", id)
	}
	return ev, nil
}

// DeleteEvent removes a whole series by UID. An instance id cancels only
// that occurrence by adding an EXDATE to the series.
func (f *File) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events, err := f.load("delete")
	if err != nil {
		return err
	}
	if _, ok := ics.Lookup(events, id, f.loc); !ok {
		return store.NotFound("delete", id)
	}

	uid, start, isInstance := model.SplitInstanceID(id)
	kept := events[:0]
	for _, ev := range events {
		switch {
		case !isInstance && ev.UID == id:
			continue
		case isInstance && ev.UID == uid && ev.IsOverride() && ev.Recurrence.Equal(start):
			continue
		case isInstance && ev.UID == uid && !ev.IsOverride():
			ev.ExDates = append(ev.ExDates, start.In(ev.Start.Location()))
		}
		kept = append(kept, ev)
	}
	return f.save("delete", kept)
}

func (f *File) link(uid string) string {
	abs, err := filepath.Abs(f.path)
	if err != nil {
		abs = f.path
	}
	return "file://" + filepath.ToSlash(abs) + "#" + uid
}
