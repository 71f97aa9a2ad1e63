package datavis

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/mitchellh/mapstructure"
)

// recorderOptions is the structured view of the recorder's config map.
type recorderOptions struct {
	MaxFrames    int     `mapstructure:"max_frames"`
	SampleRateHz float64 `mapstructure:"sample_rate_hz"`
	RecordPath   string  `mapstructure:"record_path"`
}

const (
	defaultMaxFrames   = 10000
	recorderFlushTicks = 16
)

// sessionsBucket holds one sub-bucket per recording session.
var sessionsBucket = []byte("sessions")

type persistedFrame struct {
	VarID     uint32  `json:"var_id"`
	Timestamp int64   `json:"ts"`
	Raw       int64   `json:"raw"`
	Converted float64 `json:"converted"`
}

// RecorderNode appends samples to an in-memory session buffer keyed by
// variable id, bounded by a frame count and a target sample rate. It never
// emits on the sink channel; the outside pulls snapshots through the
// RequestSession command. When record_path is set the session is also
// persisted to a bolt file, frames keyed by tick index so replay preserves
// tick order.
type RecorderNode struct {
	node
	raw  map[string]interface{}
	opts recorderOptions

	frames   map[pipeline.VarID][]SessionFrame
	lastKeep map[pipeline.VarID]int64

	db        *bolt.DB
	bucket    []byte
	tickIndex uint64
	pendKeys  []uint64
	pendVals  [][]byte
}

func newRecorderNode(name string) *RecorderNode {
	return &RecorderNode{
		node:     newNodeBase(name),
		raw:      make(map[string]interface{}),
		opts:     recorderOptions{MaxFrames: defaultMaxFrames},
		frames:   make(map[pipeline.VarID][]SessionFrame),
		lastKeep: make(map[pipeline.VarID]int64),
	}
}

func (n *RecorderNode) Ports() []pipeline.PortDescriptor {
	return pipeline.Recorder.Ports()
}

func (n *RecorderNode) OnActivate(ctx *NodeContext) {
	n.frames = make(map[pipeline.VarID][]SessionFrame)
	n.lastKeep = make(map[pipeline.VarID]int64)
	n.tickIndex = 0
	if n.opts.RecordPath == "" {
		return
	}
	db, err := bolt.Open(n.opts.RecordPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E! failed to open session file:", err)
		return
	}
	err = db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		name := make([]byte, 8)
		binary.BigEndian.PutUint64(name, seq)
		_, err = root.CreateBucket(name)
		if err != nil {
			return err
		}
		n.bucket = name
		return nil
	})
	if err != nil {
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E! failed to create session bucket:", err)
		db.Close()
		return
	}
	n.db = db
}

func (n *RecorderNode) OnData(ctx *NodeContext) {
	n.statMap.Add(statCollected, int64(ctx.Input.Len()))
	var kept []persistedFrame
	ctx.Input.Range(func(s edge.Sample) {
		if !n.shouldKeep(s.VarID, ctx.Input.Timestamp) {
			return
		}
		f := SessionFrame{
			Timestamp: ctx.Input.Timestamp,
			Raw:       s.Raw,
			Converted: s.Converted,
		}
		buf := append(n.frames[s.VarID], f)
		if max := n.maxFrames(); len(buf) > max {
			// Window full: age out the oldest frame.
			copy(buf, buf[1:])
			buf = buf[:max]
			n.statMap.Add(statDropped, 1)
		}
		n.frames[s.VarID] = buf
		n.statMap.Add(statEmitted, 1)
		if n.db != nil {
			kept = append(kept, persistedFrame{
				VarID:     uint32(s.VarID),
				Timestamp: f.Timestamp,
				Raw:       f.Raw,
				Converted: f.Converted,
			})
		}
	})
	if n.db != nil && len(kept) > 0 {
		val, err := json.Marshal(kept)
		if err == nil {
			n.pendKeys = append(n.pendKeys, n.tickIndex)
			n.pendVals = append(n.pendVals, val)
		}
	}
	n.tickIndex++
	if len(n.pendKeys) >= recorderFlushTicks {
		n.flush()
	}
}

func (n *RecorderNode) OnDeactivate(ctx *NodeContext) {
	n.flush()
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.Println("E! failed to close session file:", err)
		}
		n.db = nil
	}
}

func (n *RecorderNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	switch key {
	case "max_frames", "sample_rate_hz", "record_path":
		n.raw[key] = value.Interface()
		opts := recorderOptions{MaxFrames: defaultMaxFrames}
		if err := mapstructure.WeakDecode(n.raw, &opts); err != nil {
			n.logger.Println("E! bad recorder config:", err)
			return
		}
		if opts.MaxFrames <= 0 {
			opts.MaxFrames = defaultMaxFrames
		}
		n.opts = opts
	case "clear":
		n.frames = make(map[pipeline.VarID][]SessionFrame)
		n.lastKeep = make(map[pipeline.VarID]int64)
	}
}

// SessionSnapshot copies the session buffer, variables in ascending id
// order and frames in tick order.
func (n *RecorderNode) SessionSnapshot(names func(pipeline.VarID) string) *SessionSnapshot {
	ids := make([]pipeline.VarID, 0, len(n.frames))
	for id := range n.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snap := &SessionSnapshot{Variables: make([]SessionVariable, 0, len(ids))}
	for _, id := range ids {
		frames := make([]SessionFrame, len(n.frames[id]))
		copy(frames, n.frames[id])
		sv := SessionVariable{VarID: id, Frames: frames}
		if names != nil {
			sv.Name = names(id)
		}
		snap.Variables = append(snap.Variables, sv)
	}
	return snap
}

// shouldKeep applies the target sample rate per variable. The first sample
// of a variable is always kept.
func (n *RecorderNode) shouldKeep(id pipeline.VarID, ts int64) bool {
	if n.opts.SampleRateHz <= 0 {
		return true
	}
	period := int64(float64(time.Second) / n.opts.SampleRateHz)
	last, ok := n.lastKeep[id]
	if ok && ts-last < period {
		return false
	}
	n.lastKeep[id] = ts
	return true
}

func (n *RecorderNode) maxFrames() int {
	if n.opts.MaxFrames <= 0 {
		return defaultMaxFrames
	}
	return n.opts.MaxFrames
}

// flush writes the buffered ticks in one transaction.
func (n *RecorderNode) flush() {
	if n.db == nil || len(n.pendKeys) == 0 {
		n.pendKeys = n.pendKeys[:0]
		n.pendVals = n.pendVals[:0]
		return
	}
	err := n.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket(n.bucket)
		for i, k := range n.pendKeys {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, k)
			if err := b.Put(key, n.pendVals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E! failed to persist session frames:", err)
	}
	n.pendKeys = n.pendKeys[:0]
	n.pendVals = n.pendVals[:0]
}
