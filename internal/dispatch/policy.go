package dispatch

// Policy decides per call whether the message is traced, handed to its
// handler and released afterwards.
type Policy struct {
	Trace  bool
	Invoke bool
	Free   bool
}

var (
	// PolicyHandle is normal inbound handling.
	PolicyHandle = Policy{Trace: true, Invoke: true, Free: true}
	// PolicyNoFree leaves the buffer with the caller.
	PolicyNoFree = Policy{Trace: true, Invoke: true}
	// PolicyNoTraceNoFree is used by replay.
	PolicyNoTraceNoFree = Policy{Invoke: true}
	// PolicyTraceOnly records a message without executing it.
	PolicyTraceOnly = Policy{Trace: true}
)

func (p Policy) String() string {
	switch p {
	case PolicyHandle:
		return "handle"
	case PolicyNoFree:
		return "no-free"
	case PolicyNoTraceNoFree:
		return "no-trace-no-free"
	case PolicyTraceOnly:
		return "trace-only"
	}
	out := ""
	for _, f := range []struct {
		on   bool
		name string
	}{{p.Trace, "trace"}, {p.Invoke, "invoke"}, {p.Free, "free"}} {
		if !f.on {
			continue
		}
		if out != "" {
			out += "+"
		}
		out += f.name
	}
	if out == "" {
		return "none"
	}
	return out
}
