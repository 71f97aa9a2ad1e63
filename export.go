package datavis

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/mitchellh/mapstructure"
)

// Export formats and layouts.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"

	LayoutWide = "wide"
	LayoutLong = "long"
)

// exporterOptions is the structured view of the exporter's config map.
type exporterOptions struct {
	Path       string `mapstructure:"path"`
	Format     string `mapstructure:"format"`
	Layout     string `mapstructure:"layout"`
	FlushEvery int    `mapstructure:"flush_every"`
}

// After this many consecutive failed ticks the exporter deactivates
// itself rather than keep hammering a broken file.
const maxConsecutiveWriteErrors = 3

// ExporterNode continuously writes samples to a file in wide or long
// layout, CSV or JSON. Writes are buffered and flushed on tick boundaries.
// I/O failures surface as events, never as aborts; an unrecoverable file
// deactivates the sink.
type ExporterNode struct {
	node
	raw  map[string]interface{}
	opts exporterOptions

	active bool
	file   *os.File
	buf    *bufio.Writer
	csvw   *csv.Writer

	// Wide layout: column order is ascending VarID as encountered before
	// the header is committed on the first non-empty packet.
	columns   []pipeline.VarID
	colIndex  map[pipeline.VarID]int
	headerOut bool
	lateWarn  bool

	consecErrors int
	sinceFlush   int
}

func newExporterNode(name string) *ExporterNode {
	return &ExporterNode{
		node:   newNodeBase(name),
		raw:    make(map[string]interface{}),
		opts:   exporterOptions{Format: FormatCSV, Layout: LayoutLong, FlushEvery: 1},
		active: true,
	}
}

func (n *ExporterNode) Ports() []pipeline.PortDescriptor {
	return pipeline.Exporter.Ports()
}

func (n *ExporterNode) OnActivate(ctx *NodeContext) {
	n.headerOut = false
	n.lateWarn = false
	n.columns = nil
	n.colIndex = make(map[pipeline.VarID]int)
	n.consecErrors = 0
	n.sinceFlush = 0
	if n.opts.Path == "" {
		n.logger.Println("W! no export path configured")
		return
	}
	f, err := os.OpenFile(n.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E! failed to open export file:", err)
		n.active = false
		return
	}
	n.file = f
	n.buf = bufio.NewWriter(f)
	if n.opts.Format == FormatCSV {
		n.csvw = csv.NewWriter(n.buf)
	}
}

func (n *ExporterNode) OnData(ctx *NodeContext) {
	if !n.active || n.file == nil {
		return
	}
	n.statMap.Add(statCollected, int64(ctx.Input.Len()))
	if err := n.writeTick(ctx); err != nil {
		ioErr := &pipeline.IoError{Err: err}
		n.statMap.Add(statErrors, 1)
		ctx.OutputEvents.Push(edge.VariableError(pipeline.InvalidVarID, "export write failed: "+ioErr.Error()))
		n.consecErrors++
		if n.consecErrors >= maxConsecutiveWriteErrors {
			n.logger.Printf("E! deactivating after %d consecutive write failures: %v", n.consecErrors, err)
			n.closeFile()
			n.active = false
		}
		return
	}
	n.consecErrors = 0
	n.sinceFlush++
	if n.sinceFlush >= n.flushEvery() {
		n.flushBuffers()
		n.sinceFlush = 0
	}
}

func (n *ExporterNode) OnDeactivate(ctx *NodeContext) {
	n.closeFile()
}

func (n *ExporterNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	switch key {
	case "path", "format", "layout", "flush_every":
		n.raw[key] = value.Interface()
		opts := exporterOptions{Format: FormatCSV, Layout: LayoutLong, FlushEvery: 1}
		if err := mapstructure.WeakDecode(n.raw, &opts); err != nil {
			n.logger.Println("E! bad exporter config:", err)
			return
		}
		if opts.Format != FormatCSV && opts.Format != FormatJSON {
			n.logger.Printf("W! unknown export format %q, using csv", opts.Format)
			opts.Format = FormatCSV
		}
		if opts.Layout != LayoutWide && opts.Layout != LayoutLong {
			n.logger.Printf("W! unknown export layout %q, using long", opts.Layout)
			opts.Layout = LayoutLong
		}
		n.opts = opts
	case "active":
		if b, ok := value.AsBool(); ok {
			n.active = b
		}
	}
}

func (n *ExporterNode) writeTick(ctx *NodeContext) error {
	if ctx.Input.IsEmpty() {
		return nil
	}
	if n.opts.Layout == LayoutWide && !n.headerOut {
		n.commitColumns(ctx)
		if n.opts.Format == FormatCSV {
			header := make([]string, 0, len(n.columns)+1)
			header = append(header, "timestamp")
			for _, id := range n.columns {
				header = append(header, ctx.Vars.Name(id))
			}
			if err := n.csvw.Write(header); err != nil {
				return err
			}
		}
		n.headerOut = true
	}

	switch {
	case n.opts.Format == FormatCSV && n.opts.Layout == LayoutWide:
		return n.writeCSVWide(ctx)
	case n.opts.Format == FormatCSV:
		return n.writeCSVLong(ctx)
	case n.opts.Layout == LayoutWide:
		return n.writeJSONWide(ctx)
	default:
		return n.writeJSONLong(ctx)
	}
}

// commitColumns fixes the wide column order: ascending VarID over the
// first non-empty packet.
func (n *ExporterNode) commitColumns(ctx *NodeContext) {
	seen := make(map[pipeline.VarID]bool)
	ctx.Input.Range(func(s edge.Sample) {
		seen[s.VarID] = true
	})
	for id := range seen {
		n.columns = append(n.columns, id)
	}
	for i := 1; i < len(n.columns); i++ {
		for j := i; j > 0 && n.columns[j] < n.columns[j-1]; j-- {
			n.columns[j], n.columns[j-1] = n.columns[j-1], n.columns[j]
		}
	}
	for i, id := range n.columns {
		n.colIndex[id] = i
	}
}

func (n *ExporterNode) writeCSVWide(ctx *NodeContext) error {
	row := make([]string, len(n.columns)+1)
	row[0] = strconv.FormatInt(ctx.Input.Timestamp, 10)
	ctx.Input.Range(func(s edge.Sample) {
		i, ok := n.colIndex[s.VarID]
		if !ok {
			n.warnLateVariable(s.VarID)
			return
		}
		row[i+1] = strconv.FormatFloat(s.Converted, 'g', -1, 64)
	})
	return n.csvw.Write(row)
}

func (n *ExporterNode) writeCSVLong(ctx *NodeContext) error {
	var werr error
	ctx.Input.Range(func(s edge.Sample) {
		if werr != nil {
			return
		}
		werr = n.csvw.Write([]string{
			strconv.FormatInt(ctx.Input.Timestamp, 10),
			strconv.FormatUint(uint64(s.VarID), 10),
			ctx.Vars.Name(s.VarID),
			strconv.FormatInt(s.Raw, 10),
			strconv.FormatFloat(s.Converted, 'g', -1, 64),
		})
	})
	return werr
}

func (n *ExporterNode) writeJSONWide(ctx *NodeContext) error {
	values := make(map[string]float64, ctx.Input.Len())
	ctx.Input.Range(func(s edge.Sample) {
		if _, ok := n.colIndex[s.VarID]; !ok {
			n.warnLateVariable(s.VarID)
			return
		}
		values[ctx.Vars.Name(s.VarID)] = s.Converted
	})
	line := struct {
		TS     int64              `json:"ts"`
		Values map[string]float64 `json:"values"`
	}{TS: ctx.Input.Timestamp, Values: values}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	if _, err := n.buf.Write(data); err != nil {
		return err
	}
	return n.buf.WriteByte('\n')
}

func (n *ExporterNode) writeJSONLong(ctx *NodeContext) error {
	var werr error
	ctx.Input.Range(func(s edge.Sample) {
		if werr != nil {
			return
		}
		line := struct {
			TS        int64   `json:"ts"`
			VarID     uint32  `json:"var_id"`
			VarName   string  `json:"var_name"`
			Raw       int64   `json:"raw"`
			Converted float64 `json:"converted"`
		}{
			TS:        ctx.Input.Timestamp,
			VarID:     uint32(s.VarID),
			VarName:   ctx.Vars.Name(s.VarID),
			Raw:       s.Raw,
			Converted: s.Converted,
		}
		data, err := json.Marshal(line)
		if err != nil {
			werr = err
			return
		}
		if _, err := n.buf.Write(data); err != nil {
			werr = err
			return
		}
		werr = n.buf.WriteByte('\n')
	})
	return werr
}

func (n *ExporterNode) warnLateVariable(id pipeline.VarID) {
	if !n.lateWarn {
		n.logger.Printf("W! variable %v appeared after the header was written; it will not be exported", id)
		n.lateWarn = true
	}
}

func (n *ExporterNode) flushEvery() int {
	if n.opts.FlushEvery <= 0 {
		return 1
	}
	return n.opts.FlushEvery
}

func (n *ExporterNode) flushBuffers() {
	if n.csvw != nil {
		n.csvw.Flush()
	}
	if n.buf != nil {
		if err := n.buf.Flush(); err != nil {
			n.statMap.Add(statErrors, 1)
			n.logger.Println("E! flush failed:", err)
		}
	}
}

// closeFile releases the file on every deactivation path.
func (n *ExporterNode) closeFile() {
	if n.file == nil {
		return
	}
	n.flushBuffers()
	if err := n.file.Close(); err != nil {
		n.logger.Println("E! failed to close export file:", err)
	}
	n.file = nil
	n.buf = nil
	n.csvw = nil
}
