package capability

import (
	"context"
	"errors"
	"testing"
)

// fakeDir is a minimal Directory for gate tests.
type fakeDir struct {
	name  string
	kind  Kind
	state State

	queryErr   error
	requestErr error
	requests   int
	grantOn    int // grant on the n-th request (0 = never)
}

func (f *fakeDir) Name() string { return f.name }
func (f *fakeDir) Kind() Kind   { return f.kind }

func (f *fakeDir) QueryPermission(context.Context) (State, error) {
	if f.queryErr != nil {
		return StateUnknown, f.queryErr
	}
	return f.state, nil
}

func (f *fakeDir) RequestPermission(context.Context) (State, error) {
	if f.requestErr != nil {
		return StateUnknown, f.requestErr
	}
	f.requests++
	if f.grantOn != 0 && f.requests >= f.grantOn {
		f.state = StateGranted
	} else {
		f.state = StateDenied
	}
	return f.state, nil
}

func (f *fakeDir) Children(context.Context) ([]Handle, error)              { return nil, nil }
func (f *fakeDir) Child(context.Context, string) (Handle, error)           { return nil, ErrEntryNotFound }
func (f *fakeDir) CreateDirectory(context.Context, string) (Directory, error) {
	return nil, ErrPermissionDenied
}
func (f *fakeDir) CreateFile(context.Context, string) (File, error) { return nil, ErrPermissionDenied }
func (f *fakeDir) Remove(context.Context, string) error             { return ErrEntryNotFound }

type fakePicker struct {
	dir Directory
	err error
}

func (p *fakePicker) Pick(context.Context) (Directory, error) {
	return p.dir, p.err
}

func TestHasPermission(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(nil)

	granted := &fakeDir{name: "notes", kind: KindDirectory, state: StateGranted}
	ok, err := gate.HasPermission(ctx, granted)
	if err != nil || !ok {
		t.Errorf("HasPermission(granted) = (%v, %v), want (true, nil)", ok, err)
	}

	denied := &fakeDir{name: "notes", kind: KindDirectory, state: StateDenied}
	ok, err = gate.HasPermission(ctx, denied)
	if err != nil || ok {
		t.Errorf("HasPermission(denied) = (%v, %v), want (false, nil)", ok, err)
	}

	// A failing query is a transient error, not a denial.
	broken := &fakeDir{name: "notes", kind: KindDirectory, queryErr: errors.New("backend gone")}
	if _, err := gate.HasPermission(ctx, broken); err == nil {
		t.Error("HasPermission with failing query: expected error")
	}
}

func TestRequestPermission(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(nil)

	// Declined, declined, granted: denial is retryable, not terminal.
	dir := &fakeDir{name: "notes", kind: KindDirectory, state: StateDenied, grantOn: 3}

	for i := 0; i < 2; i++ {
		ok, err := gate.RequestPermission(ctx, dir)
		if err != nil {
			t.Fatalf("RequestPermission: %v", err)
		}
		if ok {
			t.Fatalf("request %d unexpectedly granted", i+1)
		}
	}

	ok, err := gate.RequestPermission(ctx, dir)
	if err != nil || !ok {
		t.Errorf("third request = (%v, %v), want granted", ok, err)
	}
}

func TestPickCapability(t *testing.T) {
	ctx := context.Background()

	t.Run("existing capability is reused", func(t *testing.T) {
		existing := &fakeDir{name: "notes", kind: KindDirectory, state: StateGranted}
		gate := NewGate(&fakePicker{err: errors.New("picker must not be called")})

		got, err := gate.PickCapability(ctx, existing)
		if err != nil {
			t.Fatalf("PickCapability: %v", err)
		}
		if got != Directory(existing) {
			t.Error("expected the existing capability back")
		}
	})

	t.Run("cancelled pick is a permission error", func(t *testing.T) {
		gate := NewGate(&fakePicker{err: ErrPickCancelled})

		_, err := gate.PickCapability(ctx, nil)
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("error = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("picking a file fails fast", func(t *testing.T) {
		notADir := &fakeDir{name: "file.md", kind: KindFile}
		gate := NewGate(&fakePicker{dir: notADir})

		_, err := gate.PickCapability(ctx, nil)
		if !errors.Is(err, ErrInvalidCapability) {
			t.Errorf("error = %v, want ErrInvalidCapability", err)
		}
	})

	t.Run("no picker configured", func(t *testing.T) {
		gate := NewGate(nil)

		_, err := gate.PickCapability(ctx, nil)
		if !errors.Is(err, ErrInvalidCapability) {
			t.Errorf("error = %v, want ErrInvalidCapability", err)
		}
	})
}

// Guard against fakes drifting from the interfaces.
var (
	_ Directory = (*fakeDir)(nil)
	_ Picker    = (*fakePicker)(nil)
)
