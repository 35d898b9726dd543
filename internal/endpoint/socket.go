package endpoint

import "sort"

// Socket option names the adjustment below cares about. Everything else
// passes through unchanged.
const (
	OptSendBuffer = "sndbuf"
	OptRecvBuffer = "recbuf"
	OptBuffer     = "buffer"
)

type SocketOption struct {
	Name  string
	Value int
}

// ResolveSocketOptions translates the socket option map into an ordered
// option list. Whenever any of sndbuf/recbuf/buffer is supplied, the
// buffer value is raised to at least the maximum of the three: the
// transport requires buffer >= recbuf to avoid an extra copy on read.
// The result is sorted by name, so the output is order independent and
// re-applying the adjustment is a no-op.
func ResolveSocketOptions(raw map[string]int) []SocketOption {
	if len(raw) == 0 {
		return nil
	}

	opts := make(map[string]int, len(raw)+1)
	for name, v := range raw {
		opts[name] = v
	}

	_, hasSnd := opts[OptSendBuffer]
	_, hasRecv := opts[OptRecvBuffer]
	_, hasBuf := opts[OptBuffer]
	if hasSnd || hasRecv || hasBuf {
		buf := opts[OptBuffer]
		if v := opts[OptSendBuffer]; v > buf {
			buf = v
		}
		if v := opts[OptRecvBuffer]; v > buf {
			buf = v
		}
		opts[OptBuffer] = buf
	}

	out := make([]SocketOption, 0, len(opts))
	for name, v := range opts {
		out = append(out, SocketOption{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
