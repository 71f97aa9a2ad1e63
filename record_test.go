package datavis

import (
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

func TestRecorderKeepsFramesInTickOrder(t *testing.T) {
	n := newRecorderNode("rec")
	ctx := newTestContext()
	n.OnActivate(ctx)

	for tick := 0; tick < 5; tick++ {
		ctx.Input.Clear()
		ctx.Input.Timestamp = int64(tick) * 1_000_000
		ctx.Input.Push(edge.Sample{VarID: 0, Raw: int64(tick), Converted: float64(tick)})
		n.OnData(ctx)
	}

	snap := n.SessionSnapshot(nil)
	if len(snap.Variables) != 1 {
		t.Fatalf("expected 1 variable got %d", len(snap.Variables))
	}
	frames := snap.Variables[0].Frames
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames got %d", len(frames))
	}
	for i, f := range frames {
		if f.Raw != int64(i) {
			t.Errorf("frame %d out of order: raw=%d", i, f.Raw)
		}
	}
}

func TestRecorderMaxFramesWindow(t *testing.T) {
	n := newRecorderNode("rec")
	ctx := newTestContext()
	n.OnConfigChange("max_frames", pipeline.IntValue(3), ctx)
	n.OnActivate(ctx)

	for tick := 0; tick < 10; tick++ {
		ctx.Input.Clear()
		ctx.Input.Timestamp = int64(tick)
		ctx.Input.Push(edge.Sample{VarID: 0, Raw: int64(tick)})
		n.OnData(ctx)
	}

	frames := n.SessionSnapshot(nil).Variables[0].Frames
	if len(frames) != 3 {
		t.Fatalf("expected window of 3 got %d", len(frames))
	}
	// Only the newest frames survive.
	for i, want := range []int64{7, 8, 9} {
		if frames[i].Raw != want {
			t.Errorf("frame %d: expected raw %d got %d", i, want, frames[i].Raw)
		}
	}
}

func TestRecorderSampleRate(t *testing.T) {
	n := newRecorderNode("rec")
	ctx := newTestContext()
	// 100 Hz target on a 1 kHz stream keeps every 10th sample.
	n.OnConfigChange("sample_rate_hz", pipeline.FloatValue(100), ctx)
	n.OnActivate(ctx)

	for tick := 0; tick < 100; tick++ {
		ctx.Input.Clear()
		ctx.Input.Timestamp = int64(tick) * 1_000_000 // 1ms ticks
		ctx.Input.Push(edge.Sample{VarID: 0, Raw: int64(tick)})
		n.OnData(ctx)
	}

	frames := n.SessionSnapshot(nil).Variables[0].Frames
	if len(frames) != 10 {
		t.Fatalf("expected 10 kept frames got %d", len(frames))
	}
	if frames[0].Raw != 0 || frames[1].Raw != 10 {
		t.Errorf("unexpected kept frames %v", frames[:2])
	}
}

func TestRecorderPersistsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	n := newRecorderNode("rec")
	ctx := newTestContext()
	n.OnConfigChange("record_path", pipeline.StringValue(path), ctx)
	n.OnActivate(ctx)

	for tick := 0; tick < recorderFlushTicks+5; tick++ {
		ctx.Input.Clear()
		ctx.Input.Timestamp = int64(tick)
		ctx.Input.Push(edge.Sample{VarID: 1, Raw: int64(tick), Converted: float64(tick)})
		n.OnData(ctx)
	}
	n.OnDeactivate(ctx)

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var ticks []uint64
	err = db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		if root == nil {
			t.Fatal("sessions bucket missing")
		}
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			return root.Bucket(k).ForEach(func(fk, fv []byte) error {
				var idx uint64
				for _, b := range fk {
					idx = idx<<8 | uint64(b)
				}
				ticks = append(ticks, idx)
				return nil
			})
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != recorderFlushTicks+5 {
		t.Fatalf("expected %d persisted ticks got %d", recorderFlushTicks+5, len(ticks))
	}
	// Big-endian keys iterate in tick order.
	for i := 1; i < len(ticks); i++ {
		if ticks[i] <= ticks[i-1] {
			t.Fatalf("tick order broken at %d: %v", i, ticks)
		}
	}
}
