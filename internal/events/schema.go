package events

import (
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

//go:embed events.proto
var eventsProto string

const (
	protoFileName = "events.proto"
	protoPackage  = "incubator.events.v1."
)

type Schema struct {
	Envelope          *desc.MessageDescriptor
	DeviceFound       *desc.MessageDescriptor
	ConnectionStatus  *desc.MessageDescriptor
	DiscoveryFinished *desc.MessageDescriptor
	ModeSwitchCommand *desc.MessageDescriptor
}

var (
	schemaOnce sync.Once
	schemaInst *Schema
	schemaErr  error
)

func LoadSchema() (*Schema, error) {
	schemaOnce.Do(func() {
		p := protoparse.Parser{
			Accessor: func(filename string) (io.ReadCloser, error) {
				if filename == protoFileName {
					return io.NopCloser(strings.NewReader(eventsProto)), nil
				}
				return nil, fmt.Errorf("unknown import: %s", filename)
			},
		}
		fds, err := p.ParseFiles(protoFileName)
		if err != nil {
			schemaErr = err
			return
		}
		fd := fds[0]
		schemaInst = &Schema{
			Envelope:          fd.FindMessage(protoPackage + "Envelope"),
			DeviceFound:       fd.FindMessage(protoPackage + "DeviceFound"),
			ConnectionStatus:  fd.FindMessage(protoPackage + "ConnectionStatus"),
			DiscoveryFinished: fd.FindMessage(protoPackage + "DiscoveryFinished"),
			ModeSwitchCommand: fd.FindMessage(protoPackage + "ModeSwitchCommand"),
		}
		for name, d := range map[string]*desc.MessageDescriptor{
			"Envelope":          schemaInst.Envelope,
			"DeviceFound":       schemaInst.DeviceFound,
			"ConnectionStatus":  schemaInst.ConnectionStatus,
			"DiscoveryFinished": schemaInst.DiscoveryFinished,
			"ModeSwitchCommand": schemaInst.ModeSwitchCommand,
		} {
			if d == nil {
				schemaErr = fmt.Errorf("schema: missing %s descriptor", name)
				return
			}
		}
	})
	return schemaInst, schemaErr
}

func (s *Schema) NewEnvelope(subject, source string) *dynamic.Message {
	m := dynamic.NewMessage(s.Envelope)
	m.SetFieldByName("id", NewID())
	m.SetFieldByName("ts_unix_ms", time.Now().UTC().UnixMilli())
	m.SetFieldByName("subject", subject)
	m.SetFieldByName("source", source)
	return m
}
