package wire

import "fmt"

// RequestKind enumerates the requests a worker can send on the request
// endpoint (§6).
type RequestKind uint8

const (
	ReqInitialize RequestKind = iota + 1
	ReqConnect
	ReqFrame
	ReqHeartbeat
)

// ResponseKind enumerates the replies the controller can send back on
// the request endpoint (§6).
type ResponseKind uint8

const (
	RespOK ResponseKind = iota + 1
	RespOKEncourage
	RespWait
	RespReset
	RespSoftError
	RespError
)

// CommandKind enumerates the commands broadcast on the command endpoint
// and echoed back as last_command (§4.2, §6).
type CommandKind uint8

const (
	CmdStep CommandKind = iota + 1
	CmdReset
	CmdClose
	CmdResetClient
	CmdWakeUp
	CmdNoCommand
)

// field tags shared by the record encodings below. Tags are scoped per
// record type (MasterRequest's tag 1 is unrelated to Frame's tag 1), so
// the numbering restarts in each block purely for readability.
const (
	reqTagCommand       = 1
	reqTagClientID      = 2
	reqTagInstanceID    = 3
	reqTagConnectSpaces = 4
	reqTagFrame         = 5
)

// MasterRequest is sent by a worker to the controller's request
// endpoint.
type MasterRequest struct {
	Command    RequestKind
	ClientID   uint32
	InstanceID int64

	// ConnectSpaces is the opaque observation/action space descriptor
	// payload carried by a CONNECT request; nil otherwise.
	ConnectSpaces []byte

	// Frame is populated for a FRAME request.
	Frame *Frame
}

func (m *MasterRequest) Encode(buf *Buffer) {
	buf.WriteUint32(reqTagCommand, uint32(m.Command))
	buf.WriteUint32(reqTagClientID, m.ClientID)
	buf.WriteInt64(reqTagInstanceID, m.InstanceID)
	if m.ConnectSpaces != nil {
		buf.WriteBytes(reqTagConnectSpaces, m.ConnectSpaces)
	}
	if m.Frame != nil {
		var fb Buffer
		m.Frame.Encode(&fb)
		buf.WriteRaw(reqTagFrame, fb.Bytes())
	}
	buf.End()
}

func DecodeMasterRequest(r *Reader) (*MasterRequest, error) {
	m := new(MasterRequest)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return m, nil
		}
		switch tag {
		case reqTagCommand:
			v, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			m.Command = RequestKind(v)
		case reqTagClientID:
			if m.ClientID, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		case reqTagInstanceID:
			if m.InstanceID, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		case reqTagConnectSpaces:
			if m.ConnectSpaces, err = r.ReadBytes(); err != nil {
				return nil, err
			}
		case reqTagFrame:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			m.Frame, err = DecodeFrame(NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("wire: decoding MasterRequest.Frame: %w", err)
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown MasterRequest field %d: %w", tag, err)
			}
		}
	}
}

const (
	respTagKind     = 1
	respTagName     = 2
	respTagConnect  = 3
)

// MasterResponse is the controller's reply to a MasterRequest.
type MasterResponse struct {
	Kind ResponseKind

	// Name is populated on a reply to INITIALIZE.
	Name *NameResponse

	// Connect is populated on a reply to CONNECT.
	Connect *ConnectResponse
}

func (m *MasterResponse) Encode(buf *Buffer) {
	buf.WriteUint32(respTagKind, uint32(m.Kind))
	if m.Name != nil {
		var nb Buffer
		m.Name.Encode(&nb)
		buf.WriteRaw(respTagName, nb.Bytes())
	}
	if m.Connect != nil {
		var cb Buffer
		m.Connect.Encode(&cb)
		buf.WriteRaw(respTagConnect, cb.Bytes())
	}
	buf.End()
}

func DecodeMasterResponse(r *Reader) (*MasterResponse, error) {
	m := new(MasterResponse)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return m, nil
		}
		switch tag {
		case respTagKind:
			v, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			m.Kind = ResponseKind(v)
		case respTagName:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			if m.Name, err = DecodeNameResponse(NewReader(raw)); err != nil {
				return nil, fmt.Errorf("wire: decoding MasterResponse.Name: %w", err)
			}
		case respTagConnect:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			if m.Connect, err = DecodeConnectResponse(NewReader(raw)); err != nil {
				return nil, fmt.Errorf("wire: decoding MasterResponse.Connect: %w", err)
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown MasterResponse field %d: %w", tag, err)
			}
		}
	}
}

const (
	nameTagEnvName            = 1
	nameTagSeed               = 2
	nameTagServerVersion      = 3
	nameTagClientID           = 4
	nameTagInstanceID         = 5
	nameTagResetCompensation  = 6
)

// NameResponse answers an INITIALIZE request.
type NameResponse struct {
	EnvName           string
	Seed              int64
	ServerVersion     uint32
	ClientID          uint32
	InstanceID        int64
	ResetCompensation bool
}

func (n *NameResponse) Encode(buf *Buffer) {
	buf.WriteString(nameTagEnvName, n.EnvName)
	buf.WriteInt64(nameTagSeed, n.Seed)
	buf.WriteUint32(nameTagServerVersion, n.ServerVersion)
	buf.WriteUint32(nameTagClientID, n.ClientID)
	buf.WriteInt64(nameTagInstanceID, n.InstanceID)
	buf.WriteBool(nameTagResetCompensation, n.ResetCompensation)
	buf.End()
}

func DecodeNameResponse(r *Reader) (*NameResponse, error) {
	n := new(NameResponse)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return n, nil
		}
		switch tag {
		case nameTagEnvName:
			if n.EnvName, err = r.ReadString(); err != nil {
				return nil, err
			}
		case nameTagSeed:
			if n.Seed, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		case nameTagServerVersion:
			if n.ServerVersion, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		case nameTagClientID:
			if n.ClientID, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		case nameTagInstanceID:
			if n.InstanceID, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		case nameTagResetCompensation:
			if n.ResetCompensation, err = r.ReadBool(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown NameResponse field %d: %w", tag, err)
			}
		}
	}
}

const (
	connRespTagEnvID       = 1
	connRespTagLastCommand = 2
)

// ConnectResponse answers a CONNECT request once a slot has been
// assigned.
type ConnectResponse struct {
	EnvironmentID uint32

	// LastCommand is set only on OK_ENCOURAGE replies (§4.3).
	LastCommand *WorkerCommand
}

func (c *ConnectResponse) Encode(buf *Buffer) {
	buf.WriteUint32(connRespTagEnvID, c.EnvironmentID)
	if c.LastCommand != nil {
		var cb Buffer
		c.LastCommand.Encode(&cb)
		buf.WriteRaw(connRespTagLastCommand, cb.Bytes())
	}
	buf.End()
}

func DecodeConnectResponse(r *Reader) (*ConnectResponse, error) {
	c := new(ConnectResponse)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return c, nil
		}
		switch tag {
		case connRespTagEnvID:
			if c.EnvironmentID, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		case connRespTagLastCommand:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			if c.LastCommand, err = DecodeWorkerCommand(NewReader(raw)); err != nil {
				return nil, fmt.Errorf("wire: decoding ConnectResponse.LastCommand: %w", err)
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown ConnectResponse field %d: %w", tag, err)
			}
		}
	}
}

const (
	cmdTagKind       = 1
	cmdTagNonce      = 2
	cmdTagActions    = 3
	cmdTagInstanceID = 4
)

// WorkerCommand is broadcast on the command endpoint (§4.2, §6).
type WorkerCommand struct {
	Kind CommandKind
	Nonce int64

	// Actions is the opaque per-slot action payload carried by STEP;
	// nil for every other command kind.
	Actions []byte

	// InstanceID is set on RESET_CLIENT to name the generation the
	// receiving worker should discard state for (§4.2).
	InstanceID int64
}

func (c *WorkerCommand) Encode(buf *Buffer) {
	buf.WriteUint32(cmdTagKind, uint32(c.Kind))
	buf.WriteInt64(cmdTagNonce, c.Nonce)
	if c.Actions != nil {
		buf.WriteBytes(cmdTagActions, c.Actions)
	}
	buf.WriteInt64(cmdTagInstanceID, c.InstanceID)
	buf.End()
}

func DecodeWorkerCommand(r *Reader) (*WorkerCommand, error) {
	c := new(WorkerCommand)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return c, nil
		}
		switch tag {
		case cmdTagKind:
			v, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			c.Kind = CommandKind(v)
		case cmdTagNonce:
			if c.Nonce, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		case cmdTagActions:
			if c.Actions, err = r.ReadBytes(); err != nil {
				return nil, err
			}
		case cmdTagInstanceID:
			if c.InstanceID, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown WorkerCommand field %d: %w", tag, err)
			}
		}
	}
}

const (
	frameTagObservation = 1
	frameTagReward      = 2
	frameTagDone        = 3
	frameTagInfo        = 4
	frameTagNonce       = 5
)

// Frame is a worker's reply to STEP/RESET, carrying the environment's
// observation/reward/done/info (§3, §6).
type Frame struct {
	Observation *Array
	Reward      float64
	Done        bool
	Info        []byte
	Nonce       int64
}

func (f *Frame) Encode(buf *Buffer) {
	if f.Observation != nil {
		var ob Buffer
		f.Observation.Encode(&ob)
		buf.WriteRaw(frameTagObservation, ob.Bytes())
	}
	buf.WriteFloat64(frameTagReward, f.Reward)
	buf.WriteBool(frameTagDone, f.Done)
	if f.Info != nil {
		buf.WriteBytes(frameTagInfo, f.Info)
	}
	buf.WriteInt64(frameTagNonce, f.Nonce)
	buf.End()
}

func DecodeFrame(r *Reader) (*Frame, error) {
	f := new(Frame)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return f, nil
		}
		switch tag {
		case frameTagObservation:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			if f.Observation, err = DecodeArray(NewReader(raw)); err != nil {
				return nil, fmt.Errorf("wire: decoding Frame.Observation: %w", err)
			}
		case frameTagReward:
			if f.Reward, err = r.ReadFloat64(); err != nil {
				return nil, err
			}
		case frameTagDone:
			if f.Done, err = r.ReadBool(); err != nil {
				return nil, err
			}
		case frameTagInfo:
			if f.Info, err = r.ReadBytes(); err != nil {
				return nil, err
			}
		case frameTagNonce:
			if f.Nonce, err = r.ReadInt64(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown Frame field %d: %w", tag, err)
			}
		}
	}
}
