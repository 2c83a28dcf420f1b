package memclnt

import (
	"context"
	"encoding/binary"
	"os"
	"time"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

const defaultSendTimeout = time.Second

// Sender delivers a reply to the client registered under clientIndex.
type Sender interface {
	Send(ctx context.Context, clientIndex uint32, b *wire.Buffer) error
}

// Service answers memclnt requests against one registry.
type Service struct {
	reg     *registry.Registry
	out     Sender
	program string
	version string
	pid     uint32
	timeout time.Duration
	missing func()
}

type ServiceOption func(*Service)

// WithProgram sets what show_version reports.
func WithProgram(program, version string) ServiceOption {
	return func(s *Service) {
		s.program = program
		s.version = version
	}
}

// WithPID overrides the process id reported by control_ping_reply.
func WithPID(pid uint32) ServiceOption {
	return func(s *Service) { s.pid = pid }
}

func WithSendTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMissingClient is called whenever a reply cannot be delivered.
func WithMissingClient(fn func()) ServiceOption {
	return func(s *Service) { s.missing = fn }
}

// NewService returns the memclnt handlers, sending replies through out.
// Pass it to Register to install the handlers in reg.
func NewService(reg *registry.Registry, out Sender, opts ...ServiceOption) *Service {
	s := &Service{
		reg:     reg,
		out:     out,
		program: "apibusd",
		version: "dev",
		pid:     uint32(os.Getpid()),
		timeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) handlers() map[uint16]registry.Handler {
	return map[uint16]registry.Handler{
		IDControlPing:   s.ControlPing,
		IDGetFirstMsgID: s.GetFirstMsgID,
		IDShowVersion:   s.ShowVersion,
		IDAPIVersions:   s.APIVersions,
	}
}

// ControlPing runs after the endian fix.
func (s *Service) ControlPing(b *wire.Buffer) {
	req, err := DecodeControlPing(b.Bytes(), binary.NativeEndian)
	if err != nil {
		log.Warn().Err(err).Msg("memclnt: bad control_ping")
		return
	}
	s.reply(req.ClientIndex, ControlPingReply{
		ReplyHeader: ReplyHeader{Context: req.Context, Retval: RetvalOK},
		ClientIndex: req.ClientIndex,
		VpePID:      s.pid,
	})
}

// GetFirstMsgID resolves a module's id range by name.
func (s *Service) GetFirstMsgID(b *wire.Buffer) {
	data := b.Bytes()
	req, err := DecodeGetFirstMsgID(data, binary.NativeEndian)
	if err != nil {
		log.Warn().Err(err).Msg("memclnt: bad get_first_msg_id")
		if len(data) < headerLen {
			return
		}
		h := decodeRequestHeader(data, binary.NativeEndian)
		s.reply(h.ClientIndex, GetFirstMsgIDReply{
			ReplyHeader: ReplyHeader{Context: h.Context, Retval: RetvalInvalidRequest},
			FirstMsgID:  registry.InvalidID,
		})
		return
	}

	reply := GetFirstMsgIDReply{
		ReplyHeader: ReplyHeader{Context: req.Context, Retval: RetvalNoSuchModule},
		FirstMsgID:  registry.InvalidID,
	}
	if rg, ok := s.reg.RangeByName(req.Name); ok {
		reply.Retval = RetvalOK
		reply.FirstMsgID = rg.First
	} else {
		log.Debug().Str("module", req.Name).Msg("memclnt: get_first_msg_id for unknown module")
	}
	s.reply(req.ClientIndex, reply)
}

func (s *Service) ShowVersion(b *wire.Buffer) {
	req, err := DecodeShowVersion(b.Bytes(), binary.NativeEndian)
	if err != nil {
		log.Warn().Err(err).Msg("memclnt: bad show_version")
		return
	}
	s.reply(req.ClientIndex, ShowVersionReply{
		ReplyHeader: ReplyHeader{Context: req.Context, Retval: RetvalOK},
		Program:     s.program,
		Version:     s.version,
	})
}

// APIVersions is registered without the endian fix and reads its
// request in network order.
func (s *Service) APIVersions(b *wire.Buffer) {
	req, err := DecodeAPIVersions(b.Bytes(), binary.BigEndian)
	if err != nil {
		log.Warn().Err(err).Msg("memclnt: bad api_versions")
		return
	}
	versions := s.reg.Versions()
	reply := APIVersionsReply{
		ReplyHeader: ReplyHeader{Context: req.Context, Retval: RetvalOK},
		Versions:    make([]ModuleVersion, 0, len(versions)),
	}
	for _, v := range versions {
		reply.Versions = append(reply.Versions, ModuleVersion{
			Major: v.Major,
			Minor: v.Minor,
			Patch: v.Patch,
			Name:  v.Name,
		})
	}
	s.reply(req.ClientIndex, reply)
}

func (s *Service) reply(clientIndex uint32, msg Message) {
	if s.out == nil {
		s.clientMissing(clientIndex, msg.ID(), nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.out.Send(ctx, clientIndex, wire.NewBuffer(msg.Encode())); err != nil {
		s.clientMissing(clientIndex, msg.ID(), err)
	}
}

func (s *Service) clientMissing(clientIndex uint32, id uint16, err error) {
	log.Warn().Err(err).Uint32("client_index", clientIndex).Uint16("msg_id", id).Msg("memclnt: reply dropped, client missing")
	if s.missing != nil {
		s.missing()
	}
}
