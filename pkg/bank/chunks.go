package bank

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/user/wwisego/pkg/binreader"
)

// Chunk signatures as they appear little-endian in the file.
const (
	SigBKHD uint32 = 0x44484B42
	SigPLAT uint32 = 0x54414c50
	SigINIT uint32 = 0x54494e49
	SigDIDX uint32 = 0x58444944
	SigENVS uint32 = 0x53564e45
	SigDATA uint32 = 0x41544144
	SigHIRC uint32 = 0x43524948
	SigSTID uint32 = 0x44495453
	SigSTMG uint32 = 0x474d5453
)

// ChunkName renders a little-endian signature as its four ASCII characters.
func ChunkName(sig uint32) string {
	b := []byte{byte(sig), byte(sig >> 8), byte(sig >> 16), byte(sig >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08X", sig)
		}
	}
	return string(b)
}

// Chunk is a decoded, recognised chunk payload.
type Chunk interface {
	Signature() uint32
}

// chunkReader decodes one chunk body. The cursor covers exactly the declared
// payload, so a reader cannot run into the next chunk.
type chunkReader func(body *binreader.Cursor) (Chunk, error)

var registry = map[uint32]chunkReader{
	SigINIT: readInit,
	SigPLAT: readPlatform,
	SigSTMG: readGlobalSettings,
	SigENVS: readEnvSettings,
	SigDIDX: readDataIndex,
	SigDATA: readData,
	SigHIRC: readHierarchy,
	SigSTID: readStringTable,
}

// InitChunk lists the plugins a bank depends on.
type InitChunk struct {
	Plugins map[uint32]string
}

func (*InitChunk) Signature() uint32 { return SigINIT }

func readInit(c *binreader.Cursor) (Chunk, error) {
	count, err := c.U32()
	if err != nil {
		return nil, err
	}
	ch := &InitChunk{Plugins: make(map[uint32]string)}
	for i := uint32(0); i < count; i++ {
		id, err := c.U32()
		if err != nil {
			return nil, err
		}
		if _, err := c.U32(); err != nil { // name size, includes terminator
			return nil, err
		}
		name, err := c.CString()
		if err != nil {
			return nil, err
		}
		ch.Plugins[id] = name
	}
	return ch, nil
}

type PlatformChunk struct {
	Platform string
}

func (*PlatformChunk) Signature() uint32 { return SigPLAT }

func readPlatform(c *binreader.Cursor) (Chunk, error) {
	if _, err := c.U32(); err != nil {
		return nil, err
	}
	s, err := c.CString()
	if err != nil {
		return nil, err
	}
	return &PlatformChunk{Platform: s}, nil
}

type StateTransition struct {
	From, To uint32
	Time     int32
}

type StateGroup struct {
	ID          uint32
	DefaultTime int32
	Transitions []StateTransition
}

type SwitchGroup struct {
	ID         uint32
	RTPCID     uint32
	RTPCType   uint8
	PointCount uint32
}

type RTPCParam struct {
	ID           uint32
	DefaultValue float32
	RampingType  uint32
	RampUp       float32
	RampDown     float32
	BuiltIn      bool
}

type AcousticTexture struct {
	ID                uint32
	AbsorptionOffset  float32
	AbsorptionLow     float32
	AbsorptionMidLow  float32
	AbsorptionMidHigh float32
	AbsorptionHigh    float32
	Scattering        float32
}

// GlobalSettingsChunk is the STMG chunk carried by the init bank.
type GlobalSettingsChunk struct {
	VolumeThreshold           float32
	MaxVoices                 uint16
	MaxDangerousVirtualVoices uint16
	StateGroups               []StateGroup
	SwitchGroups              []SwitchGroup
	RTPCParams                []RTPCParam
	AcousticTextures          []AcousticTexture
}

func (*GlobalSettingsChunk) Signature() uint32 { return SigSTMG }

func readGlobalSettings(c *binreader.Cursor) (Chunk, error) {
	ch := &GlobalSettingsChunk{}
	var err error
	if ch.VolumeThreshold, err = c.F32(); err != nil {
		return nil, err
	}
	if ch.MaxVoices, err = c.U16(); err != nil {
		return nil, err
	}
	if ch.MaxDangerousVirtualVoices, err = c.U16(); err != nil {
		return nil, err
	}

	n, err := c.U32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var g StateGroup
		if g.ID, err = c.U32(); err != nil {
			return nil, err
		}
		if g.DefaultTime, err = c.I32(); err != nil {
			return nil, err
		}
		tn, err := c.U32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < tn; j++ {
			var tr StateTransition
			if tr.From, err = c.U32(); err != nil {
				return nil, err
			}
			if tr.To, err = c.U32(); err != nil {
				return nil, err
			}
			if tr.Time, err = c.I32(); err != nil {
				return nil, err
			}
			g.Transitions = append(g.Transitions, tr)
		}
		ch.StateGroups = append(ch.StateGroups, g)
	}

	if n, err = c.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var g SwitchGroup
		if g.ID, err = c.U32(); err != nil {
			return nil, err
		}
		if g.RTPCID, err = c.U32(); err != nil {
			return nil, err
		}
		if g.RTPCType, err = c.U8(); err != nil {
			return nil, err
		}
		if g.PointCount, err = c.U32(); err != nil {
			return nil, err
		}
		// graph points: from f32, to f32, interpolation u32
		if err := c.Skip(int64(g.PointCount) * 12); err != nil {
			return nil, err
		}
		ch.SwitchGroups = append(ch.SwitchGroups, g)
	}

	if n, err = c.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var p RTPCParam
		if p.ID, err = c.U32(); err != nil {
			return nil, err
		}
		if p.DefaultValue, err = c.F32(); err != nil {
			return nil, err
		}
		if p.RampingType, err = c.U32(); err != nil {
			return nil, err
		}
		if p.RampUp, err = c.F32(); err != nil {
			return nil, err
		}
		if p.RampDown, err = c.F32(); err != nil {
			return nil, err
		}
		if p.BuiltIn, err = c.Bool(); err != nil {
			return nil, err
		}
		ch.RTPCParams = append(ch.RTPCParams, p)
	}

	if n, err = c.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var a AcousticTexture
		if a.ID, err = c.U32(); err != nil {
			return nil, err
		}
		for _, f := range []*float32{&a.AbsorptionOffset, &a.AbsorptionLow, &a.AbsorptionMidLow,
			&a.AbsorptionMidHigh, &a.AbsorptionHigh, &a.Scattering} {
			if *f, err = c.F32(); err != nil {
				return nil, err
			}
		}
		ch.AcousticTextures = append(ch.AcousticTextures, a)
	}
	return ch, nil
}

type Curve struct {
	Enabled    bool
	Scaling    uint8
	PointCount uint16
}

// EnvSettingsChunk holds the obstruction and occlusion curves, two groups of three.
type EnvSettingsChunk struct {
	Curves [2][3]Curve
}

func (*EnvSettingsChunk) Signature() uint32 { return SigENVS }

func readEnvSettings(c *binreader.Cursor) (Chunk, error) {
	ch := &EnvSettingsChunk{}
	for x := 0; x < 2; x++ {
		for y := 0; y < 3; y++ {
			cv := &ch.Curves[x][y]
			var err error
			if cv.Enabled, err = c.Bool(); err != nil {
				return nil, err
			}
			if cv.Scaling, err = c.U8(); err != nil {
				return nil, err
			}
			if cv.PointCount, err = c.U16(); err != nil {
				return nil, err
			}
			if err := c.Skip(int64(cv.PointCount) * 12); err != nil {
				return nil, err
			}
		}
	}
	return ch, nil
}

// DataIndexEntry locates one embedded asset inside the DATA payload.
type DataIndexEntry struct {
	ID     uint32
	Offset uint32
	Length uint32
}

// DataIndexChunk is the DIDX chunk. The same id may appear more than once.
type DataIndexChunk struct {
	Entries []DataIndexEntry
	Files   map[uint32][]DataIndexEntry
}

func (*DataIndexChunk) Signature() uint32 { return SigDIDX }

func readDataIndex(c *binreader.Cursor) (Chunk, error) {
	count := c.Len() / 12
	ch := &DataIndexChunk{
		Entries: make([]DataIndexEntry, 0, count),
		Files:   make(map[uint32][]DataIndexEntry),
	}
	for i := int64(0); i < count; i++ {
		var e DataIndexEntry
		var err error
		if e.ID, err = c.U32(); err != nil {
			return nil, err
		}
		if e.Offset, err = c.U32(); err != nil {
			return nil, err
		}
		if e.Length, err = c.U32(); err != nil {
			return nil, err
		}
		ch.Entries = append(ch.Entries, e)
		ch.Files[e.ID] = append(ch.Files[e.ID], e)
	}
	return ch, nil
}

// DataChunk is the DATA payload. Asset offsets are relative to its start.
type DataChunk struct {
	payload *binreader.Cursor
}

func (*DataChunk) Signature() uint32 { return SigDATA }

func (d *DataChunk) Size() int64 { return d.payload.Len() }

func readData(c *binreader.Cursor) (Chunk, error) {
	return &DataChunk{payload: c}, nil
}

// GetFile returns a copy of the bytes described by e. It is safe for
// concurrent use.
func (d *DataChunk) GetFile(e DataIndexEntry) ([]byte, error) {
	s, err := d.payload.Slice(int64(e.Offset), int64(e.Length))
	if err != nil {
		return nil, errors.Wrapf(err, "asset %d", e.ID)
	}
	return s.Bytes(int(e.Length))
}

// HircSection is one hierarchy object. Only its header is decoded.
type HircSection struct {
	Type   HircType
	ID     uint32
	Offset int64
	Size   uint32
}

type HircChunk struct {
	Sections []HircSection
}

func (*HircChunk) Signature() uint32 { return SigHIRC }

func readHierarchy(c *binreader.Cursor) (Chunk, error) {
	count, err := c.U32()
	if err != nil {
		return nil, err
	}
	ch := &HircChunk{}
	for i := uint32(0); i < count; i++ {
		t, err := c.U8()
		if err != nil {
			return nil, err
		}
		size, err := c.U32()
		if err != nil {
			return nil, err
		}
		s := HircSection{Type: HircType(t), Offset: c.Pos(), Size: size}
		if size >= 4 {
			if s.ID, err = c.PeekU32(); err != nil {
				return nil, err
			}
		}
		if err := c.Skip(int64(size)); err != nil {
			return nil, err
		}
		log.Trace().Stringer("type", s.Type).Uint32("id", s.ID).Uint32("size", size).Msg("hirc section")
		ch.Sections = append(ch.Sections, s)
	}
	return ch, nil
}

// StringTableChunk maps bank ids to bank names.
type StringTableChunk struct {
	Type  uint32
	Names map[uint32]string
}

func (*StringTableChunk) Signature() uint32 { return SigSTID }

func readStringTable(c *binreader.Cursor) (Chunk, error) {
	typ, err := c.U32()
	if err != nil {
		return nil, err
	}
	count, err := c.U32()
	if err != nil {
		return nil, err
	}
	// Each row is at least an id and a length byte.
	if int64(count)*5 > c.Remaining() {
		return nil, errors.Wrapf(binreader.ErrOutOfBounds, "%d bank names in %d bytes", count, c.Remaining())
	}
	ch := &StringTableChunk{Type: typ, Names: make(map[uint32]string, count)}
	for i := uint32(0); i < count; i++ {
		id, err := c.U32()
		if err != nil {
			return nil, err
		}
		n, err := c.U8()
		if err != nil {
			return nil, err
		}
		name, err := c.Bytes(int(n))
		if err != nil {
			return nil, err
		}
		ch.Names[id] = string(name)
	}
	return ch, nil
}
