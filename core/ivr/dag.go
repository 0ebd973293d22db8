// Package ivr runs menu driven call flows described as a DAG of nodes.
package ivr

import (
	"errors"
	"fmt"
	"time"
)

const DefaultFuzzThreshold = 80

// ErrConfiguration marks a DAG that cannot be run.
var ErrConfiguration = errors.New("invalid ivr configuration")

type LinkType string

const (
	LinkTypeCommand LinkType = "command"
	LinkTypeDTMF    LinkType = "dtmf"
)

// Link leads to Next once Message was recognized, either as a spoken command
// or as a DTMF digit.
type Link struct {
	Message string
	Next    string
}

type NodeBase struct {
	// WaitDelay is waited out before the node runs.
	WaitDelay time.Duration
	// IsFinal ends the flow as soon as the node is reached.
	IsFinal bool
	Links   []Link
}

func (n *NodeBase) base() *NodeBase { return n }

// Node is one of [PlayNode], [MessageNode], [HoldNode] or [TerminalNode].
type Node interface {
	base() *NodeBase
}

// PlayNode plays a sound and moves on.
type PlayNode struct {
	NodeBase
	Sound string
	// Delay is waited out after the sound was played.
	Delay time.Duration
}

// MessageNode repeats its message until the human picks one of its links.
type MessageNode struct {
	NodeBase
	Message  string
	LinkType LinkType
}

// HoldNode cycles through its messages, Delay apart, until Duration has
// passed.
type HoldNode struct {
	NodeBase
	Messages []string
	Delay    time.Duration
	Duration time.Duration
}

// TerminalNode ends the flow.
type TerminalNode struct {
	NodeBase
}

type DAG struct {
	Start string
	Nodes map[string]Node
	// FuzzThreshold is the minimum similarity, out of 100, for a spoken
	// command to match.
	FuzzThreshold int
}

func (d *DAG) fuzzThreshold() int {
	if d.FuzzThreshold <= 0 {
		return DefaultFuzzThreshold
	}
	return d.FuzzThreshold
}

// Validate checks that the flow can be run from start to finish.
func (d *DAG) Validate() error {
	if _, ok := d.Nodes[d.Start]; !ok {
		return fmt.Errorf("%w: start node %q not found", ErrConfiguration, d.Start)
	}

	for id, node := range d.Nodes {
		base := node.base()
		for _, link := range base.Links {
			if _, ok := d.Nodes[link.Next]; !ok {
				return fmt.Errorf("%w: node %q links to unknown node %q", ErrConfiguration, id, link.Next)
			}
		}
		if base.IsFinal {
			continue
		}

		switch n := node.(type) {
		case *PlayNode:
			if len(base.Links) == 0 {
				return fmt.Errorf("%w: play node %q has no links", ErrConfiguration, id)
			}
		case *MessageNode:
			if n.LinkType != LinkTypeCommand && n.LinkType != LinkTypeDTMF {
				return fmt.Errorf("%w: message node %q has unknown link type %q", ErrConfiguration, id, n.LinkType)
			}
			if len(base.Links) == 0 {
				return fmt.Errorf("%w: message node %q has no links", ErrConfiguration, id)
			}
		case *HoldNode:
			if len(base.Links) == 0 {
				return fmt.Errorf("%w: hold node %q has no links", ErrConfiguration, id)
			}
			if len(n.Messages) == 0 {
				return fmt.Errorf("%w: hold node %q has no messages", ErrConfiguration, id)
			}
		case *TerminalNode:
		default:
			return fmt.Errorf("%w: node %q has unsupported type %T", ErrConfiguration, id, node)
		}
	}
	return nil
}
