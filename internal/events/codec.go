package events

import (
	"errors"
	"fmt"

	"github.com/jhump/protoreflect/dynamic"

	"incubator-link/internal/device"
)

var ErrBadCommand = errors.New("bad command")

func Marshal(m *dynamic.Message) ([]byte, error) {
	return m.Marshal()
}

func UnmarshalEnvelope(schema *Schema, b []byte) (*dynamic.Message, error) {
	if schema == nil || schema.Envelope == nil {
		return nil, fmt.Errorf("schema not loaded")
	}
	m := dynamic.NewMessage(schema.Envelope)
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

// ModeSwitch is a decoded mode-switch command. Target may be zero.
type ModeSwitch struct {
	Mode   device.Mode
	Target device.Endpoint
}

func EncodeModeSwitch(schema *Schema, source string, cmd ModeSwitch) ([]byte, error) {
	env := schema.NewEnvelope(CommandModeSwitch, source)
	p := dynamic.NewMessage(schema.ModeSwitchCommand)
	p.SetFieldByName("mode", cmd.Mode.Wire())
	p.SetFieldByName("address", cmd.Target.Address)
	p.SetFieldByName("port", int32(cmd.Target.Port))
	env.SetFieldByName("mode_switch", p)
	return Marshal(env)
}

func DecodeModeSwitch(schema *Schema, b []byte) (ModeSwitch, error) {
	env, err := UnmarshalEnvelope(schema, b)
	if err != nil {
		return ModeSwitch{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	p, ok := env.GetFieldByName("mode_switch").(*dynamic.Message)
	if !ok || p == nil {
		return ModeSwitch{}, fmt.Errorf("%w: no mode_switch payload", ErrBadCommand)
	}
	raw, _ := p.GetFieldByName("mode").(string)
	mode, ok := device.ParseMode(raw)
	if !ok || mode == device.ModeUnknown {
		return ModeSwitch{}, fmt.Errorf("%w: mode %q", ErrBadCommand, raw)
	}
	addr, _ := p.GetFieldByName("address").(string)
	port, _ := p.GetFieldByName("port").(int32)
	cmd := ModeSwitch{Mode: mode}
	if addr != "" {
		if port <= 0 {
			port = 80
		}
		cmd.Target = device.Endpoint{Address: addr, Port: int(port), Mode: mode}
	}
	return cmd, nil
}
