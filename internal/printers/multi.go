package printers

import "gpudbg/internal/stream"

// Multi forwards every event to each sink in order.
type Multi []stream.Sink

// NewMulti drops nil sinks.
func NewMulti(sinks ...stream.Sink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) StartBuffer(b stream.Buffer) {
	for _, s := range m {
		s.StartBuffer(b)
	}
}

func (m Multi) StartPacket(p stream.Packet) {
	for _, s := range m {
		s.StartPacket(p)
	}
}

func (m Multi) AddField(f stream.Field) {
	for _, s := range m {
		s.AddField(f)
	}
}

func (m Multi) AddShader(r stream.ShaderRef) {
	for _, s := range m {
		s.AddShader(r)
	}
}

func (m Multi) AddDataBlock(r stream.DataBlockRef) {
	for _, s := range m {
		s.AddDataBlock(r)
	}
}

func (m Multi) Warn(w stream.Warning) {
	for _, s := range m {
		s.Warn(w)
	}
}

func (m Multi) Done() {
	for _, s := range m {
		s.Done()
	}
}
