package tag

import (
	"fmt"

	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/keychain"
)

// Candidate is one tag the search asks the membership index about.
type Candidate struct {
	Tag model.TraceTag
	// Peer is the neighbor as a search node, holding the key it would have if
	// the edge is real.
	Peer model.SearchNode
	// Link is the edge the tag confirms, oriented sender -> receiver.
	Link model.Link
}

// Probe computes the candidate tag for the edge between node and peer in the
// given direction. senderKey is the identity key of whoever would have sent
// over that edge: the peer for Backward, node.User for Forward.
//
// Backward: s = PS(peer -> node); tag = T(node.Key, s); the peer held
// Retreat(node.Key, s).
// Forward: s = PS(node -> peer); the peer holds Advance(node.Key, s) and
// tag = T(Advance(node.Key, s), s).
func Probe(dir model.Direction, node model.SearchNode, peer model.UserID, senderKey model.IdentityKey, message []byte) Candidate {
	switch dir {
	case model.Backward:
		s := keychain.DerivePairwiseSecret(senderKey, node.User)
		return Candidate{
			Tag:  MakeTraceTag(node.Key, s, message),
			Peer: model.SearchNode{User: peer, Key: keychain.RetreatKey(node.Key, s)},
			Link: model.Link{Sender: peer, Receiver: node.User},
		}
	case model.Forward:
		s := keychain.DerivePairwiseSecret(senderKey, peer)
		next := keychain.AdvanceKey(node.Key, s)
		return Candidate{
			Tag:  MakeTraceTag(next, s, message),
			Peer: model.SearchNode{User: peer, Key: next},
			Link: model.Link{Sender: node.User, Receiver: peer},
		}
	default:
		panic(fmt.Sprintf("tag: unknown direction %d", int(dir)))
	}
}
