package orchestrator

import (
	"crypto/sha3"
	"fmt"
	"io"

	"github.com/torfstack/twin/internal/protocol"
)

type OutcomeKind int

const (
	OutcomeNotFound OutcomeKind = iota
	OutcomeOnlyLocal
	OutcomeOnlyRemote
	OutcomeMatch
	OutcomeDiff
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeOnlyLocal:
		return "only_local"
	case OutcomeOnlyRemote:
		return "only_remote"
	case OutcomeMatch:
		return "match"
	case OutcomeDiff:
		return "diff"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Lookup is the result of probing one store. An empty file is Found with
// no data.
type Lookup struct {
	Found bool
	Data  []byte
}

func Absent() Lookup {
	return Lookup{}
}

func Present(data []byte) Lookup {
	return Lookup{Found: true, Data: data}
}

// Outcome is the reconciled state of one request. Local is set for
// OnlyLocal, Match and Diff; Remote for OnlyRemote and Diff.
type Outcome struct {
	Kind   OutcomeKind
	Local  []byte
	Remote []byte
}

// Reconcile decides the outcome for a pair of lookups. Cases are checked
// in order: neither, local only, remote only, both.
func Reconcile(local, remote Lookup) Outcome {
	switch {
	case !local.Found && !remote.Found:
		return Outcome{Kind: OutcomeNotFound}
	case !remote.Found:
		return Outcome{Kind: OutcomeOnlyLocal, Local: local.Data}
	case !local.Found:
		return Outcome{Kind: OutcomeOnlyRemote, Remote: remote.Data}
	}

	if len(local.Data) == len(remote.Data) && sha3.Sum256(local.Data) == sha3.Sum256(remote.Data) {
		return Outcome{Kind: OutcomeMatch, Local: local.Data}
	}
	return Outcome{Kind: OutcomeDiff, Local: local.Data, Remote: remote.Data}
}

// Header is the reply line announcing the payload lengths.
func (o Outcome) Header() string {
	switch o.Kind {
	case OutcomeOnlyLocal:
		return protocol.OnlyHeader(protocol.SourceLocal, len(o.Local))
	case OutcomeOnlyRemote:
		return protocol.OnlyHeader(protocol.SourceRemote, len(o.Remote))
	case OutcomeMatch:
		return protocol.MatchHeader(len(o.Local))
	case OutcomeDiff:
		return protocol.DiffHeader(len(o.Local), len(o.Remote))
	default:
		return protocol.NotFound
	}
}

// Payloads returns the bytes following the header, in wire order.
func (o Outcome) Payloads() [][]byte {
	switch o.Kind {
	case OutcomeOnlyLocal, OutcomeMatch:
		return [][]byte{o.Local}
	case OutcomeOnlyRemote:
		return [][]byte{o.Remote}
	case OutcomeDiff:
		return [][]byte{o.Local, o.Remote}
	default:
		return nil
	}
}

func (o Outcome) WriteTo(w io.Writer) (int64, error) {
	return protocol.WriteFrame(w, o.Header(), o.Payloads()...)
}
