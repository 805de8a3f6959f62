package syncproto

import (
	"github.com/drpcorg/mural/codec"
	"github.com/drpcorg/mural/protocol"
)

// Snapshot is what an authority hands a joiner.
type Snapshot struct {
	// serialized moments, oldest first
	Moments [][]byte
	// records not folded into Compressed yet
	Raw []byte
	// extendable compressed history
	Compressed []byte
	// optional preview
	PNG []byte
}

// Reply packs a snapshot into the messages addressed to target.
func Reply(target byte, s Snapshot) [][]byte {
	out := make([][]byte, 0, len(s.Moments)+4)
	out = append(out, protocol.MomentCount(target, len(s.Moments)))
	for _, m := range s.Moments {
		out = append(out, protocol.SyncReply(protocol.SubMoments, target, m))
	}
	out = append(out, protocol.SyncReply(protocol.SubTransactions, target, s.Raw))
	out = append(out, protocol.SyncReply(protocol.SubCompressed, target, s.Compressed))
	if len(s.PNG) > 0 {
		out = append(out, protocol.SyncReply(protocol.SubPNG, target, s.PNG))
	}
	return out
}

// Degenerate answers a request when the room has no authority: no
// moments, the relay's whole buffer as the raw tail and empty history.
func Degenerate(target byte, buffer []byte) [][]byte {
	return Reply(target, Snapshot{Raw: buffer, Compressed: codec.Compress(nil)})
}
